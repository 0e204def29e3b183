// Package command maps decoded wire frames onto store.DB calls and writes
// the corresponding reply frames.
package command

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/epochdb/epochdb/internal/epocherr"
	"github.com/epochdb/epochdb/internal/protocol"
	"github.com/epochdb/epochdb/internal/store"
)

// Name is the closed set of commands the executor understands.
type Name int

const (
	Set Name = iota
	Get
	Rm
	IncrementFrequency
	GetMetadata
	Ping
	Size
	Flush
	Invalid
)

func (n Name) String() string {
	switch n {
	case Set:
		return "set"
	case Get:
		return "get"
	case Rm:
		return "rm"
	case IncrementFrequency:
		return "increment_frequency"
	case GetMetadata:
		return "get_metadata"
	case Ping:
		return "ping"
	case Size:
		return "size"
	case Flush:
		return "flush"
	default:
		return "Invalid"
	}
}

// Parse maps a command token (case-insensitive) to a Name, returning
// Invalid for anything it doesn't recognize.
func Parse(token []byte) Name {
	switch strings.ToLower(string(token)) {
	case "set":
		return Set
	case "get":
		return Get
	case "rm":
		return Rm
	case "increment_frequency":
		return IncrementFrequency
	case "get_metadata":
		return GetMetadata
	case "ping":
		return Ping
	case "size":
		return Size
	case "flush":
		return Flush
	default:
		return Invalid
	}
}

type arity struct {
	min, max uint32
}

var arities = map[Name]arity{
	Set:                 {min: 3, max: 4},
	Get:                 {min: 2, max: 2},
	Rm:                  {min: 2, max: 2},
	IncrementFrequency:  {min: 2, max: 2},
	GetMetadata:         {min: 2, max: 2},
	Ping:                {min: 1, max: 1},
	Size:                {min: 1, max: 1},
	Flush:               {min: 1, max: 1},
}

// checkArity validates the total element count of a frame (including the
// command token itself) against the command's declared arity. Fixed-arity
// commands (min == max) report a plain "Needed N arguments" mismatch;
// variadic commands (SET's optional ttl) report "Needed at least N
// arguments" using the minimum when either bound is violated.
func checkArity(name Name, received uint32) error {
	a := arities[name]
	if a.min == a.max {
		if received != a.min {
			return &epocherr.WrongNumberOfArgumentsError{
				Command:  name.String(),
				Expected: a.min,
				Received: received,
			}
		}
		return nil
	}
	if received < a.min || received > a.max {
		return &epocherr.WrongNumberOfArgumentsError{
			Command:  name.String(),
			Expected: a.min,
			Received: received,
			AtLeast:  true,
		}
	}
	return nil
}

// Executor dispatches parsed frames onto a store.DB and writes reply
// frames to the connection.
type Executor struct {
	DB *store.DB
}

// Execute runs one command frame (args[0] is the command token) and writes
// its reply to w. A nil return means the reply was written successfully
// (including an -ERR reply for a recoverable command error); a non-nil
// return means the connection itself is no longer usable and should be
// closed.
func (e *Executor) Execute(args [][]byte, w io.Writer) error {
	if len(args) == 0 {
		return protocol.WriteError(w, (&epocherr.InvalidCommandError{}).Error())
	}

	name := Parse(args[0])
	if name == Invalid {
		return protocol.WriteError(w, (&epocherr.InvalidCommandError{}).Error())
	}

	if err := checkArity(name, uint32(len(args))); err != nil {
		return protocol.WriteError(w, err.Error())
	}

	var err error
	switch name {
	case Set:
		err = e.execSet(args, w)
	case Get:
		err = e.execGet(args, w)
	case Rm:
		err = e.execRm(args, w)
	case IncrementFrequency:
		err = e.execIncrementFrequency(args, w)
	case GetMetadata:
		err = e.execGetMetadata(args, w)
	case Ping:
		err = protocol.WriteSimpleString(w, "PONG")
	case Size:
		err = e.execSize(w)
	case Flush:
		err = e.execFlush(w)
	}
	return err
}

func (e *Executor) execSet(args [][]byte, w io.Writer) error {
	key, val := args[1], args[2]

	var ttl *time.Duration
	if len(args) == 4 {
		ms, parseErr := strconv.ParseUint(string(args[3]), 10, 64)
		if parseErr != nil {
			return protocol.WriteError(w, (&epocherr.InvalidCommandError{}).Error())
		}
		d := time.Duration(ms) * time.Millisecond
		ttl = &d
	}

	if err := e.DB.Set(key, val, ttl); err != nil {
		return protocol.WriteError(w, err.Error())
	}
	return protocol.WriteSimpleString(w, "OK")
}

func (e *Executor) execGet(args [][]byte, w io.Writer) error {
	val, err := e.DB.Get(args[1])
	if err != nil {
		return protocol.WriteError(w, err.Error())
	}
	return protocol.WriteBulkString(w, val)
}

func (e *Executor) execRm(args [][]byte, w io.Writer) error {
	if err := e.DB.Remove(args[1]); err != nil {
		return protocol.WriteError(w, err.Error())
	}
	return protocol.WriteSimpleString(w, "OK")
}

func (e *Executor) execIncrementFrequency(args [][]byte, w io.Writer) error {
	ok, err := e.DB.IncrementFrequency(args[1])
	if err != nil {
		return protocol.WriteError(w, err.Error())
	}
	if !ok {
		return protocol.WriteBulkString(w, nil)
	}
	return protocol.WriteSimpleString(w, "OK")
}

func (e *Executor) execGetMetadata(args [][]byte, w io.Writer) error {
	meta, err := e.DB.GetMetadata(args[1])
	if err != nil {
		return protocol.WriteError(w, err.Error())
	}
	if meta == nil {
		return protocol.WriteBulkString(w, nil)
	}

	fields := meta.ToFields()
	if err := protocol.WriteArray(w, len(fields)*2); err != nil {
		return err
	}
	for _, f := range fields {
		if err := protocol.WriteBulkString(w, []byte(f.Name)); err != nil {
			return err
		}
		if f.Null {
			if err := protocol.WriteBulkString(w, nil); err != nil {
				return err
			}
			continue
		}
		if err := protocol.WriteInteger(w, int64(f.Value)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) execSize(w io.Writer) error {
	n, err := e.DB.Size()
	if err != nil {
		return protocol.WriteError(w, err.Error())
	}
	return protocol.WriteInteger(w, int64(n))
}

func (e *Executor) execFlush(w io.Writer) error {
	if err := e.DB.Flush(); err != nil {
		return protocol.WriteError(w, err.Error())
	}
	return protocol.WriteSimpleString(w, "OK")
}
