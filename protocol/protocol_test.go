package protocol

import (
	"bytes"
	"testing"

	"github.com/EgorSmi/afina/storage/lru"
)

func TestParse_NeedsMoreBytes(t *testing.T) {
	t.Parallel()

	_, _, ok := Parse([]byte("get k"))
	if ok {
		t.Fatal("a line with no CRLF must report ok=false")
	}
}

func TestParse_Get(t *testing.T) {
	t.Parallel()

	cmd, consumed, ok := Parse([]byte("get foo\r\nrest"))
	if !ok || cmd.Malformed {
		t.Fatalf("want a well-formed get, got %+v ok=%v", cmd, ok)
	}
	if cmd.Verb != VerbGet || string(cmd.Key) != "foo" || cmd.ArgLen != 0 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if consumed != len("get foo\r\n") {
		t.Fatalf("consumed=%d, want %d", consumed, len("get foo\r\n"))
	}
}

func TestParse_SetDeclaresArgLen(t *testing.T) {
	t.Parallel()

	cmd, _, ok := Parse([]byte("set foo 5\r\nhello\r\n"))
	if !ok || cmd.Malformed {
		t.Fatalf("want a well-formed set, got %+v ok=%v", cmd, ok)
	}
	if cmd.Verb != VerbSet || string(cmd.Key) != "foo" || cmd.ArgLen != 5 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestParse_MalformedCommands(t *testing.T) {
	t.Parallel()

	cases := []string{
		"frobnicate foo\r\n",
		"get\r\n",
		"get a b\r\n",
		"set foo notanumber\r\n",
		"\r\n",
	}
	for _, line := range cases {
		cmd, _, ok := Parse([]byte(line))
		if !ok {
			t.Fatalf("%q: a complete line always parses with ok=true", line)
		}
		if !cmd.Malformed {
			t.Fatalf("%q: expected Malformed=true", line)
		}
	}
}

func TestExecute_GetMissIsEnd(t *testing.T) {
	t.Parallel()

	store := lru.New(1<<20, nil)
	cmd, _, _ := Parse([]byte("get missing\r\n"))
	got := Execute(cmd, nil, store)
	if !bytes.Equal(got, []byte("END\r\n")) {
		t.Fatalf("want END, got %q", got)
	}
}

func TestExecute_SetThenGet(t *testing.T) {
	t.Parallel()

	store := lru.New(1<<20, nil)
	setCmd, _, _ := Parse([]byte("set foo 5\r\n"))
	if got := Execute(setCmd, []byte("hello"), store); !bytes.Equal(got, []byte("STORED\r\n")) {
		t.Fatalf("want STORED, got %q", got)
	}

	getCmd, _, _ := Parse([]byte("get foo\r\n"))
	got := Execute(getCmd, nil, store)
	want := "VALUE foo 0 5\r\nhello\r\nEND\r\n"
	if string(got) != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestExecute_AddRejectsExisting(t *testing.T) {
	t.Parallel()

	store := lru.New(1<<20, nil)
	addCmd, _, _ := Parse([]byte("add foo 1\r\n"))
	if got := Execute(addCmd, []byte("a"), store); !bytes.Equal(got, []byte("STORED\r\n")) {
		t.Fatalf("first add must succeed, got %q", got)
	}
	if got := Execute(addCmd, []byte("b"), store); !bytes.Equal(got, []byte("NOT_STORED\r\n")) {
		t.Fatalf("add over an existing key must be NOT_STORED, got %q", got)
	}
}

func TestExecute_DeleteMissingIsNotFound(t *testing.T) {
	t.Parallel()

	store := lru.New(1<<20, nil)
	delCmd, _, _ := Parse([]byte("delete foo\r\n"))
	if got := Execute(delCmd, nil, store); !bytes.Equal(got, []byte("NOT_FOUND\r\n")) {
		t.Fatalf("want NOT_FOUND, got %q", got)
	}
}

func TestExecute_MalformedIsError(t *testing.T) {
	t.Parallel()

	store := lru.New(1<<20, nil)
	cmd, _, _ := Parse([]byte("bogus\r\n"))
	if got := Execute(cmd, nil, store); !bytes.Equal(got, []byte("ERROR\r\n")) {
		t.Fatalf("want ERROR, got %q", got)
	}
}
