// Package verify adapts identity checks to the attendance oracle contract.
package verify

import (
	"context"
	"fmt"

	"classattend/internal/attendance"
	"classattend/internal/faceclient"
	"classattend/internal/ledger"
)

// FaceClient is the part of the face service used for 1:1 checks.
type FaceClient interface {
	Verify(ctx context.Context, studentID, imageURL string) (*faceclient.VerifyResult, error)
	Liveness(ctx context.Context, imageURL string) (*faceclient.LivenessResult, error)
}

// Face allows a redemption when the captured image matches the student.
type Face struct {
	Client FaceClient
	// RequireLiveness rejects images that fail the anti-spoofing check.
	RequireLiveness bool
}

// Verify implements attendance.Verifier.
func (f Face) Verify(ctx context.Context, vc attendance.VerificationContext) (bool, error) {
	if vc.Evidence.ImageURL == "" {
		return false, nil
	}
	if f.RequireLiveness {
		live, err := f.Client.Liveness(ctx, vc.Evidence.ImageURL)
		if err != nil {
			return false, fmt.Errorf("liveness: %w", err)
		}
		if !live.IsLive {
			return false, nil
		}
	}
	res, err := f.Client.Verify(ctx, vc.StudentID, vc.Evidence.ImageURL)
	if err != nil {
		return false, fmt.Errorf("face verify: %w", err)
	}
	return res.Verified, nil
}

// Credential allows a redemption when the device presented a platform
// credential. The credential itself is checked on the device.
type Credential struct{}

// Verify implements attendance.Verifier.
func (Credential) Verify(_ context.Context, vc attendance.VerificationContext) (bool, error) {
	return vc.Evidence.Credential != "", nil
}

// ByMethod dispatches to a verifier per method. Methods without an entry are denied.
type ByMethod map[ledger.Method]attendance.Verifier

// Verify implements attendance.Verifier.
func (m ByMethod) Verify(ctx context.Context, vc attendance.VerificationContext) (bool, error) {
	v, ok := m[vc.Method]
	if !ok || v == nil {
		return false, nil
	}
	return v.Verify(ctx, vc)
}
