/*
Package markov provides a variable-order, bidirectional Markov chain toolkit for
learning sentence statistics from a text corpus and generating new sentences.

Training counts token transitions for every context length in a configured range,
in both directions, and persists the raw counts in a SQLite database so repeated
training runs merge cleanly. The counts are normalized into an immutable Model,
which is saved as a JSON file and loaded by a Generator.

A Generator picks a seed context, walks backward to a sentence start and forward to
a sentence end, and re-samples the context length at every step so long contexts
are preferred while shorter ones are used when the long ones run out of data.
Generators are safe for concurrent use.
*/
package markov
