package transfer

import (
	"context"
	"io"

	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/pktline"
)

const (
	headRef  = "HEAD"
	nullByte = "\x00"
)

// WriteRefAdvertisement emits the info/refs response for the given
// service ("git-upload-pack" or "git-receive-pack"): a service header
// packet, a flush, then one pkt-line per ref with the first line carrying
// the capability list appended after a NUL byte, per Git's Smart-HTTP
// dumb/smart split (RFC: "smart-http-backend").
func WriteRefAdvertisement(w io.Writer, service string, refs []RefAdvertisement) error {
	if err := pktline.WriteString(w, "# service="+service+"\n"); err != nil {
		return err
	}
	if err := pktline.WriteFlush(w); err != nil {
		return err
	}

	if len(refs) == 0 {
		// Unborn repository: advertise the zero hash against "capabilities^{}"
		// so clients still learn the capability list.
		line := objfmt.ZeroHash.String() + " capabilities^{}" + nullByte + Capabilities + "\n"
		if err := pktline.WriteString(w, line); err != nil {
			return err
		}
		return pktline.WriteFlush(w)
	}

	for i, ref := range refs {
		line := ref.Hash.String() + " " + ref.Name
		if i == 0 {
			line += nullByte + Capabilities
		}
		line += "\n"
		if err := pktline.WriteString(w, line); err != nil {
			return err
		}
		if !ref.Peeled.IsZero() {
			peeledLine := ref.Peeled.String() + " " + ref.Name + "^{}\n"
			if err := pktline.WriteString(w, peeledLine); err != nil {
				return err
			}
		}
	}
	return pktline.WriteFlush(w)
}

// BuildRefAdvertisement loads every ref under refs/ plus HEAD's resolved
// target into advertisement order: HEAD first (if resolvable), then every
// other ref sorted by name (List already orders by name).
func BuildRefAdvertisement(ctx context.Context, lister RefLister, repoID int64) ([]RefAdvertisement, error) {
	var out []RefAdvertisement
	if head, err := lister.Resolve(ctx, repoID, headRef); err == nil {
		out = append(out, RefAdvertisement{Name: headRef, Hash: head.Hash})
	}
	rows, err := lister.List(ctx, repoID, "refs/")
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out = append(out, RefAdvertisement{Name: r.Name, Hash: r.Hash})
	}
	return out, nil
}
