package clientside

import (
	"bytes"
	"io"
	"strings"

	"github.com/antgroup/hugescm/internal/ierr"
	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/pktline"
	"github.com/antgroup/hugescm/internal/transfer"
)

const nullByte = "\x00"

// ParseRefAdvertisement decodes an info/refs response body into the same
// []transfer.RefAdvertisement shape transfer.WriteRefAdvertisement emits
// server-side, skipping the leading "# service=" header packet and the
// empty-repository "capabilities^{}" sentinel line.
func ParseRefAdvertisement(r io.Reader) ([]transfer.RefAdvertisement, error) {
	header, err := pktline.ReadPacket(r)
	if err != nil {
		return nil, err
	}
	if header.Flush || !strings.HasPrefix(string(header.Payload), "# service=") {
		return nil, ierr.MalformedInput("clientside: missing service header")
	}
	flush, err := pktline.ReadPacket(r)
	if err != nil {
		return nil, err
	}
	if !flush.Flush {
		return nil, ierr.MalformedInput("clientside: expected flush after service header")
	}

	scanner := pktline.NewScanner(r)
	var out []transfer.RefAdvertisement
	first := true
	for scanner.Scan() {
		line := strings.TrimSuffix(string(scanner.Packet().Payload), "\n")
		if first {
			first = false
			if i := strings.IndexByte(line, 0); i >= 0 {
				line = line[:i]
			}
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, ierr.MalformedInput("clientside: malformed ref line %q", line)
		}
		h, err := objfmt.NewHashEx(fields[0])
		if err != nil {
			return nil, ierr.MalformedInput("clientside: bad ref hash %q", fields[0])
		}
		name := fields[1]
		if name == "capabilities^{}" {
			continue
		}
		if strings.HasSuffix(name, "^{}") && len(out) > 0 {
			out[len(out)-1].Peeled = h
			continue
		}
		out = append(out, transfer.RefAdvertisement{Name: name, Hash: h})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteUploadPackRequest frames a want/have negotiation as the
// git-upload-pack request body, the client-side counterpart to
// transfer.ParseUploadPackRequest's expected wire format.
func WriteUploadPackRequest(w io.Writer, wants, haves []objfmt.Hash) error {
	for i, h := range wants {
		line := "want " + h.String()
		if i == 0 {
			line += " " + transfer.Capabilities
		}
		if err := pktline.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	if err := pktline.WriteFlush(w); err != nil {
		return err
	}
	for _, h := range haves {
		if err := pktline.WriteString(w, "have "+h.String()+"\n"); err != nil {
			return err
		}
	}
	if err := pktline.WriteString(w, "done\n"); err != nil {
		return err
	}
	return pktline.WriteFlush(w)
}

// UploadPackResult is the parsed response to a git-upload-pack request.
type UploadPackResult struct {
	Ack  string // "NAK" or "ACK <hash>"
	Pack []byte
}

// ParseUploadPackResponse decodes the ACK/NAK line and reassembles the
// side-band-64k-framed pack data transfer.WriteUploadPackResponse emits.
func ParseUploadPackResponse(r io.Reader) (UploadPackResult, error) {
	scanner := pktline.NewScanner(r)
	var result UploadPackResult
	var pack bytes.Buffer
	first := true
	for scanner.Scan() {
		pkt := scanner.Packet()
		if first {
			first = false
			line := strings.TrimSuffix(string(pkt.Payload), "\n")
			if line == "NAK" || strings.HasPrefix(line, "ACK ") {
				result.Ack = line
				continue
			}
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		switch pkt.Payload[0] {
		case pktline.SideBandData:
			pack.Write(pkt.Payload[1:])
		case pktline.SideBandProgress:
			// progress text, discarded here; a CLI caller that wants
			// live progress output should read the raw stream itself
			// instead of going through this helper.
		case pktline.SideBandFatal:
			return UploadPackResult{}, ierr.MalformedInput("clientside: remote fatal: %s", string(pkt.Payload[1:]))
		default:
			return UploadPackResult{}, ierr.MalformedInput("clientside: unexpected side-band channel %d", pkt.Payload[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return UploadPackResult{}, err
	}
	result.Pack = pack.Bytes()
	return result, nil
}

// WriteReceivePackRequest frames the command list followed by the pack
// bytes, the client-side counterpart to transfer.ParseReceivePackCommands
// plus the raw pack transfer.UnpackObjects expects to follow it.
func WriteReceivePackRequest(w io.Writer, cmds []transfer.Command, pack []byte) error {
	for i, cmd := range cmds {
		line := cmd.Old.String() + " " + cmd.New.String() + " " + cmd.Ref
		if i == 0 {
			line += nullByte + transfer.Capabilities
		}
		if err := pktline.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	if err := pktline.WriteFlush(w); err != nil {
		return err
	}
	_, err := w.Write(pack)
	return err
}

// ParseReportStatus decodes a receive-pack report-status v1 response,
// the client-side counterpart to transfer.WriteReportStatus. The report
// text itself arrives side-band-64k framed (same channel the pack data
// uses), so the packets are reassembled into one buffer before being
// split into status lines.
func ParseReportStatus(r io.Reader) ([]transfer.CommandStatus, error) {
	scanner := pktline.NewScanner(r)
	var report strings.Builder
	for scanner.Scan() {
		pkt := scanner.Packet()
		if len(pkt.Payload) == 0 {
			continue
		}
		switch pkt.Payload[0] {
		case pktline.SideBandData:
			report.Write(pkt.Payload[1:])
		case pktline.SideBandProgress:
		case pktline.SideBandFatal:
			return nil, ierr.MalformedInput("clientside: remote fatal: %s", string(pkt.Payload[1:]))
		default:
			return nil, ierr.MalformedInput("clientside: unexpected side-band channel %d", pkt.Payload[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimSuffix(report.String(), "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, ierr.MalformedInput("clientside: empty report-status response")
	}
	if lines[0] != "unpack ok" {
		return nil, ierr.MalformedInput("clientside: %s", lines[0])
	}

	var statuses []transfer.CommandStatus
	for _, line := range lines[1:] {
		switch {
		case strings.HasPrefix(line, "ok "):
			statuses = append(statuses, transfer.CommandStatus{Ref: line[len("ok "):], OK: true})
		case strings.HasPrefix(line, "ng "):
			rest := line[len("ng "):]
			ref, msg, _ := strings.Cut(rest, " ")
			statuses = append(statuses, transfer.CommandStatus{Ref: ref, OK: false, Message: msg})
		default:
			return nil, ierr.MalformedInput("clientside: malformed report-status line %q", line)
		}
	}
	return statuses, nil
}
