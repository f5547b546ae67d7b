/*
Package structured generates JSON documents from a language model under a
structural schema, by constraining which vocabulary tokens the model may
emit at each sampling step.

A Generator walks a Schema tree depth-first. Structural characters are
emitted deterministically through the backend's tokenizer; variable
content (free strings, numbers, enum and boolean choices) is produced by
repeatedly sampling from precomputed allowed-token sets, so the partial
output is lexically valid JSON after every committed token. The backend
owns the sampling policy; this package only supplies the allowed set and
accounts for a bounded token budget.

See the TokenBackend interface for the capabilities a model adapter must
provide, and FromJSONSchema for loading a JSON-Schema subset into the
native Schema tree.
*/
package structured
