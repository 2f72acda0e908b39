package settlement

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// generateCode returns a zero-padded 4-digit completion code. The code is a
// shared secret between platform and client, so it comes from crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("failed to generate completion code: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}
