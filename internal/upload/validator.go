package upload

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Rejection reasons. Every reason is specific and user-presentable; a blob
// failing any check never reaches the job registry.
var (
	ErrNoFilename   = errors.New("no filename provided")
	ErrTooSmall     = errors.New("file is too small to be a valid FBX model")
	ErrTooLarge     = errors.New("file exceeds the maximum allowed size")
	ErrBadExtension = errors.New("only .fbx files are accepted")
	ErrBadMIME      = errors.New("file content type is not an FBX model")
	ErrBadSignature = errors.New("file does not carry an FBX signature")
	ErrBadStructure = errors.New("FBX file structure is corrupted or incomplete")
)

var (
	binaryMagic = []byte("Kaydara FBX Binary")
	asciiMagic  = []byte("; FBX")
	headerTag   = []byte("FBXHeaderExtension")

	// Elements every well-formed ASCII FBX document carries.
	asciiElements = []string{"FBXHeaderExtension", "FBXVersion", "Definitions", "Objects"}
)

// Validator inspects an uploaded blob for format and size conformance.
type Validator struct {
	MinSize int64
	MaxSize int64
}

// NewValidator creates a validator with the given size bounds in bytes.
func NewValidator(minSize, maxSize int64) *Validator {
	return &Validator{MinSize: minSize, MaxSize: maxSize}
}

// Validate runs the checks fast-rejects first: size, extension, MIME sniff,
// magic signature, structural sanity. The extension alone is never trusted.
func (v *Validator) Validate(data []byte, declaredName string) error {
	if declaredName == "" {
		return ErrNoFilename
	}
	if int64(len(data)) < v.MinSize {
		return fmt.Errorf("%w (%d bytes, minimum %d)", ErrTooSmall, len(data), v.MinSize)
	}
	if int64(len(data)) > v.MaxSize {
		return fmt.Errorf("%w (%d bytes, maximum %d)", ErrTooLarge, len(data), v.MaxSize)
	}

	ext := strings.ToLower(filepath.Ext(declaredName))
	if ext != ".fbx" {
		return fmt.Errorf("%w (got %q)", ErrBadExtension, ext)
	}

	if err := v.checkMIME(data); err != nil {
		return err
	}

	switch {
	case bytes.HasPrefix(data, binaryMagic):
		return v.checkBinary(data)
	case bytes.HasPrefix(data, asciiMagic), bytes.Contains(head(data, 1024), headerTag):
		return v.checkASCII(data)
	default:
		return ErrBadSignature
	}
}

// checkMIME sniffs the content type. Binary FBX is detected as
// application/octet-stream, ASCII FBX as plain text; anything else (images,
// archives, executables renamed to .fbx) is rejected.
func (v *Validator) checkMIME(data []byte) error {
	mt := mimetype.Detect(data)
	if strings.HasPrefix(mt.String(), "application/") {
		return nil
	}
	if mt.Is("text/plain") {
		return nil
	}
	return fmt.Errorf("%w (detected %s)", ErrBadMIME, mt.String())
}

// checkBinary validates the binary FBX header: magic, the 0x1A 0x00 marker,
// and the version field that follows.
func (v *Validator) checkBinary(data []byte) error {
	// 18-byte magic, 2 marker bytes, 4-byte little-endian version, and the
	// magic itself terminates with a NUL inside the 21-byte prefix.
	if len(data) < 27 {
		return ErrBadStructure
	}
	if data[21] != 0x1A || data[22] != 0x00 {
		return ErrBadStructure
	}
	return nil
}

// checkASCII validates that the document carries the elements any parseable
// ASCII FBX file has.
func (v *Validator) checkASCII(data []byte) error {
	text := string(data)
	for _, element := range asciiElements {
		if !strings.Contains(text, element) {
			return fmt.Errorf("%w (missing %s)", ErrBadStructure, element)
		}
	}
	return nil
}

func head(data []byte, n int) []byte {
	if len(data) < n {
		return data
	}
	return data[:n]
}

// SanitizeFilename reduces a client-supplied filename to a safe base name
// for on-disk storage: path components stripped, characters outside a safe
// set replaced, length bounded.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)

	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '.', c == '_', c == '-':
			b.WriteRune(c)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if strings.HasPrefix(out, ".") {
		out = "file_" + out
	}
	if len(out) > 100 {
		ext := filepath.Ext(out)
		out = out[:100-len(ext)] + ext
	}
	return out
}
