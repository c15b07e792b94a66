package transfer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/objwalk"
	"github.com/antgroup/hugescm/internal/packfmt"
	"github.com/antgroup/hugescm/internal/pktline"
	"github.com/antgroup/hugescm/internal/refstore"
)

// Command is one ref-update line from a receive-pack request: create
// (old==zero), delete (new==zero), or update (both set).
type Command struct {
	Old objfmt.Hash
	New objfmt.Hash
	Ref string
}

// CommandStatus is one command's outcome in the report-status response.
type CommandStatus struct {
	Ref     string
	OK      bool
	Message string
}

// RefUpdater is the subset of internal/refstore receive-pack validates
// and applies commands through.
type RefUpdater interface {
	CAS(ctx context.Context, repoID int64, name string, oldHash, newHash objfmt.Hash) error
}

// AtomicRefUpdater is implemented by ref stores that can apply several
// CAS updates inside one transaction — required to honor a client's
// `atomic` receive-pack capability (spec.md: "if atomic was requested
// either apply all commands or none").
type AtomicRefUpdater interface {
	RefUpdater
	CASBatch(ctx context.Context, repoID int64, updates []refstore.CASUpdate) error
}

// ObjectWriter is the subset of internal/objstore receive-pack writes
// unpacked objects through.
type ObjectWriter interface {
	Put(ctx context.Context, kind objfmt.ObjectType, payload []byte) (objfmt.Hash, error)
	Has(ctx context.Context, h objfmt.Hash) (bool, error)
	Get(ctx context.Context, h objfmt.Hash) (objfmt.ObjectType, []byte, error)
}

// allowedRefPrefixes are the only namespaces receive-pack accepts writes
// under; anything else (HEAD, refs/remotes/*, arbitrary custom refs) is
// rejected as "forbidden", matching common Git host policy of refusing
// direct client writes to internal namespaces.
var allowedRefPrefixes = []string{"refs/heads/", "refs/tags/"}

// ParseReceivePackCommands reads the command list pkt-lines (terminated
// by a flush) preceding the pack data. The first line may carry the
// client's capability string after a NUL byte, same as ref advertisement.
// atomic reports whether the client's capability string requested
// `atomic` receive-pack semantics.
func ParseReceivePackCommands(r io.Reader) (cmds []Command, atomic bool, err error) {
	scanner := pktline.NewScanner(r)
	first := true
	for scanner.Scan() {
		line := strings.TrimSuffix(string(scanner.Packet().Payload), "\n")
		if first {
			if i := strings.IndexByte(line, 0); i >= 0 {
				caps := line[i+1:]
				for _, tok := range strings.Fields(caps) {
					if tok == "atomic" {
						atomic = true
					}
				}
				line = line[:i]
			}
			first = false
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, false, ierr.MalformedInput("receive-pack: malformed command line %q", line)
		}
		oldHash, err := objfmt.NewHashEx(fields[0])
		if err != nil {
			return nil, false, ierr.MalformedInput("receive-pack: bad old hash %q", fields[0])
		}
		newHash, err := objfmt.NewHashEx(fields[1])
		if err != nil {
			return nil, false, ierr.MalformedInput("receive-pack: bad new hash %q", fields[1])
		}
		cmds = append(cmds, Command{Old: oldHash, New: newHash, Ref: fields[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}
	return cmds, atomic, nil
}

// UnpackObjects resolves the incoming pack (thin packs included, using
// store as the external-base lookup for ref-deltas against objects the
// repository already has) and durably writes every resolved object.
func UnpackObjects(ctx context.Context, store ObjectWriter, pack []byte) (int, error) {
	external := func(h objfmt.Hash) ([]byte, objfmt.ObjectType, error) {
		typ, payload, err := store.Get(ctx, h)
		if err != nil {
			return nil, 0, err
		}
		return payload, typ, nil
	}
	resolved, err := packfmt.Resolve(pack, external)
	if err != nil {
		return 0, err
	}
	for _, obj := range resolved {
		h, err := store.Put(ctx, obj.Type, obj.Payload)
		if err != nil {
			return 0, ierr.Wrap(ierr.KindOf(err), "receive-pack: store object", err)
		}
		if h != obj.Hash {
			return 0, ierr.Corruption("receive-pack: object hash mismatch, computed %s want %s", h, obj.Hash)
		}
	}
	return len(resolved), nil
}

// protectedBranch cannot be deleted through receive-pack, mirroring the
// common Git host convention of refusing to remove the repository's
// default branch.
const protectedBranch = "refs/heads/main"

// classify assigns one of spec.md's required rejection reasons
// (non-fast-forward, invalid, deletion-not-allowed, forbidden) to a
// command that must not be applied as requested, or "" if it should be
// attempted. Checked in a fixed order so one command gets one reason.
func classify(ctx context.Context, reader ObjectWriter, cmd Command) string {
	if cmd.Ref == "" || strings.Contains(cmd.Ref, "..") {
		return "invalid"
	}
	if cmd.New.IsZero() && cmd.Ref == protectedBranch {
		return "deletion-not-allowed"
	}
	if !underAllowedNamespace(cmd.Ref) {
		return "forbidden"
	}
	if !cmd.Old.IsZero() && !cmd.New.IsZero() && !objwalk.IsAncestor(ctx, reader, cmd.Old, cmd.New) {
		return "non-fast-forward"
	}
	return ""
}

func underAllowedNamespace(ref string) bool {
	for _, prefix := range allowedRefPrefixes {
		if strings.HasPrefix(ref, prefix) {
			return true
		}
	}
	return false
}

// ApplyCommands classifies every command against spec.md's rejection
// reasons, then applies the survivors. When atomic is false (the
// teacher's original per-ref CAS boundary), each surviving command is
// applied independently, so a multi-ref push can partially succeed.
// When atomic is true, every command must both classify clean and CAS
// clean, or none are applied at all: classification runs first so a
// command that would never have been attempted doesn't silently
// participate in the all-or-nothing batch, then every surviving command
// is applied inside one refstore transaction via CASBatch.
func ApplyCommands(ctx context.Context, updater RefUpdater, reader ObjectWriter, repoID int64, cmds []Command, atomic bool) []CommandStatus {
	statuses := make([]CommandStatus, len(cmds))
	rejected := make([]bool, len(cmds))
	anyRejected := false
	for i, cmd := range cmds {
		if reason := classify(ctx, reader, cmd); reason != "" {
			statuses[i] = CommandStatus{Ref: cmd.Ref, OK: false, Message: reason}
			rejected[i] = true
			anyRejected = true
		}
	}

	if atomic {
		return applyAtomic(ctx, updater, repoID, cmds, statuses, rejected, anyRejected)
	}

	for i, cmd := range cmds {
		if rejected[i] {
			continue
		}
		if err := updater.CAS(ctx, repoID, cmd.Ref, cmd.Old, cmd.New); err != nil {
			statuses[i] = CommandStatus{Ref: cmd.Ref, OK: false, Message: err.Error()}
			continue
		}
		statuses[i] = CommandStatus{Ref: cmd.Ref, OK: true}
	}
	return statuses
}

func applyAtomic(ctx context.Context, updater RefUpdater, repoID int64, cmds []Command, statuses []CommandStatus, rejected []bool, anyRejected bool) []CommandStatus {
	if anyRejected {
		// At least one command was never eligible — the whole batch is
		// rejected without touching refstore, so fill in the rest with a
		// shared reason rather than attempting any CAS.
		for i, cmd := range cmds {
			if !rejected[i] {
				statuses[i] = CommandStatus{Ref: cmd.Ref, OK: false, Message: "transaction failed"}
			}
		}
		return statuses
	}

	batcher, ok := updater.(AtomicRefUpdater)
	if !ok {
		// No transactional batch support behind this updater (e.g. a test
		// double) — fail closed rather than silently degrading to
		// per-ref CAS, since that would violate the all-or-nothing
		// contract the client asked for.
		for i, cmd := range cmds {
			statuses[i] = CommandStatus{Ref: cmd.Ref, OK: false, Message: "atomic push not supported"}
		}
		return statuses
	}

	updates := make([]refstore.CASUpdate, len(cmds))
	for i, cmd := range cmds {
		updates[i] = refstore.CASUpdate{Name: cmd.Ref, Old: cmd.Old, New: cmd.New}
	}
	if err := batcher.CASBatch(ctx, repoID, updates); err != nil {
		for i, cmd := range cmds {
			statuses[i] = CommandStatus{Ref: cmd.Ref, OK: false, Message: err.Error()}
		}
		return statuses
	}
	for i, cmd := range cmds {
		statuses[i] = CommandStatus{Ref: cmd.Ref, OK: true}
	}
	return statuses
}

// WriteReportStatus emits the report-status side-band response: an
// overall "unpack ok"/"unpack <error>" line, then one "ok <ref>" or
// "ng <ref> <message>" line per command, framed as Git's v1
// report-status format (not report-status-v2, which this implementation
// does not advertise).
func WriteReportStatus(w io.Writer, unpackErr error, statuses []CommandStatus) error {
	var buf strings.Builder
	if unpackErr != nil {
		fmt.Fprintf(&buf, "unpack %s\n", unpackErr.Error())
	} else {
		buf.WriteString("unpack ok\n")
	}
	for _, st := range statuses {
		if st.OK {
			fmt.Fprintf(&buf, "ok %s\n", st.Ref)
		} else {
			fmt.Fprintf(&buf, "ng %s %s\n", st.Ref, st.Message)
		}
	}
	report := buf.String()

	bw := bufio.NewWriter(w)
	const chunk = pktline.MaxPayloadSize - 1
	for len(report) > 0 {
		n := chunk
		if n > len(report) {
			n = len(report)
		}
		if err := pktline.WriteSideBand(bw, pktline.SideBandData, []byte(report[:n])); err != nil {
			return err
		}
		report = report[n:]
	}
	if err := pktline.WriteFlush(bw); err != nil {
		return err
	}
	return bw.Flush()
}
