package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/patchline/relay/internal/common/cnst"
)

// clientType names the two id-able roles in /client-id's request body.
type clientType string

const (
	clientTypeController clientType = "controller"
	clientTypeSynth      clientType = "synth"
)

func (t clientType) valid() bool {
	return t == clientTypeController || t == clientTypeSynth
}

func (t clientType) prefix() string {
	if t == clientTypeController {
		return cnst.ControllerIDPrefix
	}
	return cnst.SynthIDPrefix
}

// mintClientID generates a new id of the form "<type>-<suffix>". Per
// DESIGN.md, the default suffix is a full UUID; shortSuffix reproduces the
// upstream system's 8-hex-character suffix for deployments that need
// compatibility with it despite its weaker collision resistance.
func mintClientID(t clientType, shortSuffix bool) (string, error) {
	if shortSuffix {
		suffix, err := randomHex(4)
		if err != nil {
			return "", err
		}
		return t.prefix() + suffix, nil
	}
	return t.prefix() + uuid.NewString(), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("httpapi: generate random suffix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
