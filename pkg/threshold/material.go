package threshold

import "fmt"

// SigningMaterial is the capability a host process injects to let the bridge sign with
// the consensus threshold key. The bridge never reads consensus state directly; whatever
// owns the DKG output hands over the share and the public sharing for the current epoch.
type SigningMaterial interface {
	Share() *Share
	Sharing() *Sharing
}

// StaticMaterial is a SigningMaterial fixed at construction, typically loaded from disk.
type StaticMaterial struct {
	share   *Share
	sharing *Sharing
}

// NewStaticMaterial pairs a share with its sharing and checks that they belong together.
func NewStaticMaterial(share *Share, sharing *Sharing) (*StaticMaterial, error) {
	if share == nil || sharing == nil {
		return nil, fmt.Errorf("%w: share and sharing are required", ErrInvalidShare)
	}
	expected, err := sharing.PartialPublicKey(share.Index)
	if err != nil {
		return nil, err
	}
	actual, err := share.PublicKey()
	if err != nil {
		return nil, err
	}
	if expected != actual {
		return nil, fmt.Errorf("%w: share %d does not match sharing for epoch %d", ErrInvalidShare, share.Index, sharing.Epoch)
	}
	return &StaticMaterial{share: share, sharing: sharing}, nil
}

func (m *StaticMaterial) Share() *Share     { return m.share }
func (m *StaticMaterial) Sharing() *Sharing { return m.sharing }
