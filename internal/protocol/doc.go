// Package protocol implements the newline-delimited JSON wire format spoken
// over the worker's standard input and output.
//
// Every message is exactly one UTF-8 JSON object terminated by '\n'.
//
// Worker to broker, once, after startup:
//
//	{"status":"ready"}
//
// Broker to worker, per query:
//
//	{"correlationId":"01J9Z...-1","question":"What is X?","topK":3}
//
// Worker to broker, per query:
//
//	{"correlationId":"01J9Z...-1","answer":"...","sources":[...],"hasResults":true,"suggestions":[...]}
//
// Broker to worker, on shutdown:
//
//	{"command":"exit"}
package protocol
