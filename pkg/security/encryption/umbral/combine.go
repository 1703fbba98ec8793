package umbral

import (
	"errors"
	"fmt"

	"github.com/cloudflare/circl/group"

	"github.com/AdalynJs/nucypher/pkg/security/encryption"
)

// ErrNotEnoughFragments is returned when fewer than threshold cfrags are given.
var ErrNotEnoughFragments = errors.New("not enough capsule fragments")

// OpenReEncrypted recombines capsule fragments and derives the capsule key
// with the receiving secret key. Callers verify every cfrag first.
func OpenReEncrypted(receiving *SecretKey, capsule *Capsule, cfrags []*CFrag, threshold int) ([]byte, error) {
	if threshold < 1 || len(cfrags) < threshold {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughFragments, len(cfrags), threshold)
	}

	precursor := cfrags[0].precursor
	ids := make([]group.Scalar, len(cfrags))
	for i, cf := range cfrags {
		if !cf.precursor.IsEqual(precursor) {
			return nil, fmt.Errorf("cfrag %d was issued under a different delegation", i)
		}
		for j := 0; j < i; j++ {
			if ids[j].IsEqual(cf.id) {
				return nil, fmt.Errorf("duplicate cfrag id at %d", i)
			}
		}
		ids[i] = cf.id
	}

	combined := g.Identity()
	for i, cf := range cfrags {
		term := g.NewElement().Mul(cf.e1, lagrangeAtZero(ids, i))
		combined.Add(combined, term)
	}

	b := receiving.PublicKey().p
	dh := g.NewElement().Mul(precursor, receiving.s)
	d := delegationScalar(precursor, b, dh)

	shared := g.NewElement().Mul(combined, d)
	return demKey(shared, capsule.e)
}

// DecryptReEncrypted opens ciphertext with recombined capsule fragments.
func DecryptReEncrypted(receiving *SecretKey, capsule *Capsule, cfrags []*CFrag, threshold int, ciphertext []byte) ([]byte, error) {
	key, err := OpenReEncrypted(receiving, capsule, cfrags, threshold)
	if err != nil {
		return nil, err
	}
	return encryption.Open(key, ciphertext, capsule.Bytes())
}

// lagrangeAtZero returns prod_{j != i} x_j / (x_j - x_i).
func lagrangeAtZero(ids []group.Scalar, i int) group.Scalar {
	num := g.NewScalar().SetUint64(1)
	den := g.NewScalar().SetUint64(1)
	diff := g.NewScalar()
	for j, xj := range ids {
		if j == i {
			continue
		}
		num.Mul(num, xj)
		diff.Sub(xj, ids[i])
		den.Mul(den, diff)
	}
	return num.Mul(num, g.NewScalar().Inv(den))
}
