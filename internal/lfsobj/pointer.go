// Package lfsobj implements the Git LFS pointer grammar: the small
// text file committed in place of a large blob, naming the real
// content's SHA-256 OID and size.
//
// Grounded on modules/lfs/pointer.go's decodeKV/decodeKVData line-by-line
// key-value parser, tightened per spec.md's explicit requirement that
// parsing be strict: content that merely starts with an LFS-looking
// prefix but fails to parse cleanly is never treated as an LFS pointer,
// so it falls back to ordinary (possibly external) blob storage instead
// of silently landing in lfs storage-mode.
package lfsobj

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/antgroup/hugescm/internal/ierr"
)

// SizeCutoff bounds how large a blob can be before it cannot possibly
// be an LFS pointer (the same cutoff the teacher scans blobs under
// before attempting to decode them).
const SizeCutoff = 1024

const oidType = "sha256"

var (
	versionAliases = []string{
		"http://git-media.io/v/2",
		"https://hawser.github.com/spec/v1",
		"https://git-lfs.github.com/spec/v1",
	}
	latestVersion = "https://git-lfs.github.com/spec/v1"
	oidRE         = regexp.MustCompile(`\A[0-9a-f]{64}\z`)
	headerRE      = regexp.MustCompile("git-media|hawser|git-lfs")
)

// Pointer is a decoded LFS pointer file: version header, content OID
// and its type (always sha256 here), and declared size.
type Pointer struct {
	Version string
	Oid     string
	Size    int64
}

// Encoded renders the pointer back to its canonical text form.
func (p *Pointer) Encoded() string {
	return fmt.Sprintf("version %s\noid %s:%s\nsize %d\n", latestVersion, oidType, p.Oid, p.Size)
}

// Decode parses payload as a strict LFS pointer. Any deviation — size
// at or above SizeCutoff, an unrecognized version, a missing or
// malformed oid/size key, unknown keys, duplicate keys — returns an
// ierr.KindMalformedInput error rather than a best-effort partial
// pointer; callers use IsNotAPointer to fall back to ordinary blob
// storage for anything that fails here.
func Decode(payload []byte) (*Pointer, error) {
	if len(payload) >= SizeCutoff {
		return nil, ierr.MalformedInput("lfsobj: payload exceeds pointer size cutoff")
	}
	trimmed := bytes.TrimSpace(payload)
	if !headerRE.Match(trimmed) {
		return nil, ierr.MalformedInput("lfsobj: missing LFS pointer header")
	}

	kvps, err := decodeKV(trimmed)
	if err != nil {
		return nil, err
	}

	version, ok := kvps["version"]
	if !ok || !validVersion(version) {
		return nil, ierr.MalformedInput("lfsobj: missing or unsupported version")
	}

	oidField, ok := kvps["oid"]
	if !ok {
		return nil, ierr.MalformedInput("lfsobj: missing oid key")
	}
	oid, err := parseOid(oidField)
	if err != nil {
		return nil, err
	}

	sizeField, ok := kvps["size"]
	if !ok {
		return nil, ierr.MalformedInput("lfsobj: missing size key")
	}
	size, err := strconv.ParseInt(sizeField, 10, 64)
	if err != nil || size < 0 {
		return nil, ierr.MalformedInput("lfsobj: invalid size %q", sizeField)
	}

	return &Pointer{Version: version, Oid: oid, Size: size}, nil
}

// IsNotAPointer reports whether err came from Decode rejecting
// malformed-but-prefix-matching content.
func IsNotAPointer(err error) bool {
	return ierr.Is(err, ierr.KindMalformedInput)
}

func validVersion(v string) bool {
	for _, a := range versionAliases {
		if a == v {
			return true
		}
	}
	return false
}

func parseOid(value string) (string, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return "", ierr.MalformedInput("lfsobj: malformed oid field %q", value)
	}
	if parts[0] != oidType {
		return "", ierr.MalformedInput("lfsobj: unsupported oid type %q", parts[0])
	}
	if !oidRE.MatchString(parts[1]) {
		return "", ierr.MalformedInput("lfsobj: malformed oid %q", parts[1])
	}
	return parts[1], nil
}

// decodeKV parses a strict "key value" line grammar: exactly three
// required keys (version, oid, size), no extensions, no duplicates, no
// blank lines, no unknown keys — stricter than the teacher's parser
// (which tolerates ext-N-name extension keys) since spec.md's pointer
// grammar names only these three fields.
func decodeKV(data []byte) (map[string]string, error) {
	kvps := make(map[string]string, 3)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		text := scanner.Text()
		lineNo++
		if len(text) == 0 {
			return nil, ierr.MalformedInput("lfsobj: blank line %d", lineNo)
		}
		parts := strings.SplitN(text, " ", 2)
		if len(parts) != 2 {
			return nil, ierr.MalformedInput("lfsobj: malformed line %d: %q", lineNo, text)
		}
		key, value := parts[0], parts[1]
		switch key {
		case "version", "oid", "size":
		default:
			return nil, ierr.MalformedInput("lfsobj: unknown key %q on line %d", key, lineNo)
		}
		if _, dup := kvps[key]; dup {
			return nil, ierr.MalformedInput("lfsobj: duplicate key %q on line %d", key, lineNo)
		}
		kvps[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, ierr.MalformedInput("lfsobj: scan error: %v", err)
	}
	if len(kvps) != 3 {
		keys := make([]string, 0, len(kvps))
		for k := range kvps {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, ierr.MalformedInput("lfsobj: incomplete pointer, have keys %v", keys)
	}
	return kvps, nil
}

// New builds a canonical pointer for a known oid/size pair (used when
// writing a pointer after a successful LFS upload).
func New(oid string, size int64) *Pointer {
	return &Pointer{Version: latestVersion, Oid: oid, Size: size}
}
