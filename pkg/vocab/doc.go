/*
Package vocab provides a SQLite-backed vocabulary store and a complete
token backend for the structured generator.

A vocabulary is a table of token texts with frequencies and special
flags, assembled offline by ingesting text corpora and seeding the
printable ASCII characters needed for JSON structure. The Backend loads
a stored vocabulary into memory and implements structured.TokenBackend
with greedy longest-match tokenization and frequency-weighted sampling
restricted to the generator's allowed sets.
*/
package vocab
