// Package protocol implements the external parser/command collaborator
// spec.md treats as out of scope: a small, real Memcached-ASCII subset
// sufficient to drive every edge case of the connection state machine in
// package conn.
//
// Grammar (each line CRLF-terminated):
//
//	get <key>\r\n
//	delete <key>\r\n
//	set <key> <nbytes>\r\n<nbytes bytes of argument>\r\n
//	add <key> <nbytes>\r\n<nbytes bytes of argument>\r\n
//
// set/add declare ArgLen in the command line; the connection reads
// exactly ArgLen argument bytes plus a trailing CRLF before calling
// Execute.
package protocol

import (
	"bytes"
	"strconv"

	"github.com/EgorSmi/afina/storage"
)

// Verb identifies which command a parsed line named.
type Verb int

const (
	VerbInvalid Verb = iota
	VerbGet
	VerbSet
	VerbAdd
	VerbDelete
)

// Command is the result of recognizing one command line. For Get and
// Delete, ArgLen is always 0: there is no binary argument to absorb.
type Command struct {
	Verb      Verb
	Key       []byte
	ArgLen    int
	Malformed bool
}

// Parse scans buf for a single CRLF-terminated command line starting at
// offset 0. ok=false means the line is not yet complete (need more
// bytes); it never indicates a malformed command, since malformed-ness
// can only be decided once the full line has arrived — the caller
// re-parses the same prefix as more bytes accumulate.
//
// On ok=true, consumed is the number of bytes spanned by the line
// including its trailing CRLF. cmd.Malformed distinguishes a line that
// parsed as a recognized-but-invalid command (caller should respond
// ERROR) from a well-formed one.
func Parse(buf []byte) (cmd Command, consumed int, ok bool) {
	idx := bytes.Index(buf, []byte("\r\n"))
	if idx < 0 {
		return Command{}, 0, false
	}
	line := buf[:idx]
	consumed = idx + 2

	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return Command{Malformed: true}, consumed, true
	}

	switch string(fields[0]) {
	case "get":
		if len(fields) != 2 {
			return Command{Malformed: true}, consumed, true
		}
		return Command{Verb: VerbGet, Key: fields[1]}, consumed, true

	case "delete":
		if len(fields) != 2 {
			return Command{Malformed: true}, consumed, true
		}
		return Command{Verb: VerbDelete, Key: fields[1]}, consumed, true

	case "set", "add":
		if len(fields) != 3 {
			return Command{Malformed: true}, consumed, true
		}
		n, err := strconv.Atoi(string(fields[2]))
		if err != nil || n < 0 {
			return Command{Malformed: true}, consumed, true
		}
		v := VerbSet
		if string(fields[0]) == "add" {
			v = VerbAdd
		}
		return Command{Verb: v, Key: fields[1], ArgLen: n}, consumed, true

	default:
		return Command{Malformed: true}, consumed, true
	}
}

// Response strings, matching spec.md §8.5's scenario verbatim.
var (
	respStored    = []byte("STORED\r\n")
	respNotStored = []byte("NOT_STORED\r\n")
	respDeleted   = []byte("DELETED\r\n")
	respNotFound  = []byte("NOT_FOUND\r\n")
	respEnd       = []byte("END\r\n")
	respError     = []byte("ERROR\r\n")
)

// Execute runs cmd against store, consuming arg for Set/Add (ignored for
// Get/Delete), and returns the full response frame including its
// trailing CRLF. A malformed command always yields ERROR regardless of
// its (possibly zero-value) Verb/Key.
func Execute(cmd Command, arg []byte, store storage.Storage) []byte {
	if cmd.Malformed {
		return respError
	}

	switch cmd.Verb {
	case VerbGet:
		value, ok := store.Get(cmd.Key)
		if !ok {
			return respEnd
		}
		return buildValue(cmd.Key, value)

	case VerbSet:
		if store.Set(cmd.Key, arg) {
			return respStored
		}
		// Set only fails on an absent key or an oversized entry. The
		// classic Memcached semantics for `set` is upsert-or-reject, so
		// fall back to an unconditional Put when the key was simply
		// absent rather than reporting NOT_STORED for the common case.
		if store.Put(cmd.Key, arg) {
			return respStored
		}
		return respNotStored

	case VerbAdd:
		if store.PutIfAbsent(cmd.Key, arg) {
			return respStored
		}
		return respNotStored

	case VerbDelete:
		if store.Delete(cmd.Key) {
			return respDeleted
		}
		return respNotFound

	default:
		return respError
	}
}

// buildValue formats the multi-line VALUE response for a cache hit.
// Flags are always reported as 0: this subset carries no client flags.
func buildValue(key, value []byte) []byte {
	header := "VALUE " + string(key) + " 0 " + strconv.Itoa(len(value)) + "\r\n"
	out := make([]byte, 0, len(header)+len(value)+2+len(respEnd))
	out = append(out, header...)
	out = append(out, value...)
	out = append(out, '\r', '\n')
	out = append(out, respEnd...)
	return out
}
