// Package auth resolves the bearer token sent to the processing service.
package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	credentialDir  = ".picwizard"
	credentialFile = "token.gpg"
	passphraseFile = ".gpg-passphrase"
)

// ErrNoToken is returned when no token source is configured.
var ErrNoToken = errors.New("no service token configured")

// ResolveToken returns the service token.
// Priority order:
//  1. explicit (flag or PICWIZARD_API_TOKEN)
//  2. GPG-encrypted file at ~/.picwizard/token.gpg
//
// ErrNoToken means neither source exists, which is fine for services that
// run without authentication.
func ResolveToken(explicit string) (string, error) {
	if explicit != "" {
		log.Debug().Msg("Using service token from flag or environment")
		return explicit, nil
	}

	credPath, err := getCredentialPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(credPath); os.IsNotExist(err) {
		return "", ErrNoToken
	}

	token, err := decryptGPG(credPath)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", fmt.Errorf("%w: %s decrypted to an empty token", ErrNoToken, credPath)
	}
	log.Debug().Str("file", credPath).Msg("Using service token from GPG encrypted file")
	return token, nil
}

// decryptGPG decrypts credPath with the gpg binary, non-interactively when
// an owner-only passphrase file is available.
func decryptGPG(credPath string) (string, error) {
	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")

	args := []string{"--decrypt", "--quiet"}
	if passphrasePath, ok := findPassphraseFile(); ok {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", passphrasePath)
	}
	args = append(args, credPath)

	output, err := exec.Command("gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// getCredentialPath returns the full path to the credentials file.
func getCredentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}

// findPassphraseFile looks for .gpg-passphrase next to the executable, then
// in the working directory. Files readable by group or others are skipped.
func findPassphraseFile() (string, bool) {
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), passphraseFile))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, passphraseFile))
	}

	for _, p := range candidates {
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		if mode := fi.Mode().Perm(); mode&0o077 != 0 {
			log.Warn().
				Str("passphrase_file", p).
				Str("permissions", fmt.Sprintf("%04o", mode)).
				Msg("Passphrase file has insecure permissions (should be 0600); skipping")
			continue
		}
		return p, true
	}
	return "", false
}
