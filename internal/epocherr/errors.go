// Package epocherr defines the closed set of error types EpochDB returns to
// callers and to the wire protocol. Each kind is its own struct with an
// Error() method, following the rest of this codebase's error style rather
// than a single string-tagged enum.
package epocherr

import "fmt"

// IncrementFailedError is returned when a frequency increment could not be
// applied, either because the key has no metadata or a transactional guard
// could not read it back.
type IncrementFailedError struct{}

func (e *IncrementFailedError) Error() string { return "Incretment has failed" }

// ParsingToByteError is returned when a value could not be encoded to bytes.
type ParsingToByteError struct{}

func (e *ParsingToByteError) Error() string { return "Parsing to byte failed" }

// ParsingToUTF8Error is returned when a stored value is not valid UTF-8.
type ParsingToUTF8Error struct{}

func (e *ParsingToUTF8Error) Error() string { return "Parsing to utf8 failed" }

// EngineError wraps an error returned by the underlying storage engine.
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string { return fmt.Sprintf("storage engine failed %s", e.Err) }
func (e *EngineError) Unwrap() error { return e.Err }

// TransactionFailedError is returned when a multi-tree transaction aborts.
type TransactionFailedError struct{}

func (e *TransactionFailedError) Error() string { return "Transaction failed" }

// ParsingToU64ByteFailedError is returned when a byte slice cannot be
// interpreted as a fixed-width u64.
type ParsingToU64ByteFailedError struct{}

func (e *ParsingToU64ByteFailedError) Error() string {
	return "Failed to parse a variable to a U64 byte [8]byte"
}

// FolderNotFoundError is returned when a backup target directory does not
// exist or the archive cannot be created in it, or when a restore archive
// path is missing or is a directory.
type FolderNotFoundError struct {
	Path string
}

func (e *FolderNotFoundError) Error() string {
	return fmt.Sprintf("Folder is not found at the path: %q", e.Path)
}

// ZipError wraps an error returned by the zip archive reader/writer.
type ZipError struct {
	Err error
}

func (e *ZipError) Error() string { return fmt.Sprintf("Zip failed %s", e.Err) }
func (e *ZipError) Unwrap() error { return e.Err }

// FileNameDoesntExistError is returned when a named archive entry is missing.
type FileNameDoesntExistError struct{}

func (e *FileNameDoesntExistError) Error() string { return "File name doesnt exist" }

// MetadataNotFoundError is returned when a key's metadata record is missing
// though its data entry exists.
type MetadataNotFoundError struct{}

func (e *MetadataNotFoundError) Error() string { return "Metadata is not found" }

// DBMetadataNotFoundError is returned when the database directory's own
// filesystem metadata cannot be read (used by the disk-size sampler).
type DBMetadataNotFoundError struct{}

func (e *DBMetadataNotFoundError) Error() string { return "DB metadata is not found" }

// ParsingFromByteError is returned when a metadata record fails to decode.
type ParsingFromByteError struct{}

func (e *ParsingFromByteError) Error() string { return "Parsing from byte failed" }

// IOError wraps an *os.File / network I/O error.
type IOError struct {
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("std IO failed %s", e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// InvalidCommandError is returned for unrecognized or malformed commands.
type InvalidCommandError struct{}

func (e *InvalidCommandError) Error() string { return "Command is invalid" }

// ValueNotFoundError is returned when a key has no value.
type ValueNotFoundError struct{}

func (e *ValueNotFoundError) Error() string { return "Value is not found" }

// ClientDisconnectedError is returned when the peer closes the connection
// mid-frame.
type ClientDisconnectedError struct{}

func (e *ClientDisconnectedError) Error() string { return "Client has disconnected" }

// AboveSizeLimitError is returned when a bulk string exceeds the configured
// maximum size.
type AboveSizeLimitError struct{}

func (e *AboveSizeLimitError) Error() string { return "Message received was above the size limit" }

// WrongNumberOfArgumentsError is returned when a command frame has too few
// or too many arguments. AtLeast distinguishes a variadic command's minimum
// (rendered "Needed at least N arguments") from a fixed-arity command's
// exact requirement (rendered "Needed N arguments").
type WrongNumberOfArgumentsError struct {
	Command  string
	Expected uint32
	Received uint32
	AtLeast  bool
}

func (e *WrongNumberOfArgumentsError) Error() string {
	if e.AtLeast {
		return fmt.Sprintf(
			"Wrong number of arguments for %q command; Needed at least %d arguments, Received %d arguments",
			e.Command, e.Expected, e.Received,
		)
	}
	return fmt.Sprintf(
		"Wrong number of arguments for %q command; Needed %d arguments, Received %d arguments",
		e.Command, e.Expected, e.Received,
	)
}

// ProtocolError is returned when the byte stream does not follow the wire
// grammar.
type ProtocolError struct{}

func (e *ProtocolError) Error() string {
	return "Invalid RESP protocol format: unexpected or malformed data received"
}
