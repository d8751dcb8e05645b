package truststore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/crawlinknetworks/tray/internal/system"
)

const (
	certificateDatabaseFileName       = "cert9.db"
	legacyCertificateDatabaseFileName = "cert8.db"
)

// discoverLegacyProfiles returns browser profile directories holding an NSS
// certificate database. Builds that predate the enterprise policy engine keep
// per-profile stores and never consult policy, so those are updated through
// the nss certutil tool directly.
func discoverLegacyProfiles(fileSystem system.FileSystem, configuration Configuration) []string {
	rootDirectories := configuration.LegacyProfileDirectories
	if len(rootDirectories) == 0 {
		rootDirectories = defaultProfileRootDirectories()
	}

	var profileDirectories []string
	for _, rootDirectory := range rootDirectories {
		entries, readErr := os.ReadDir(rootDirectory)
		if readErr != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			profileDirectory := filepath.Join(rootDirectory, entry.Name())
			if hasCertificateDatabase(fileSystem, profileDirectory) {
				profileDirectories = append(profileDirectories, profileDirectory)
			}
		}
	}
	return profileDirectories
}

func defaultProfileRootDirectories() []string {
	homeDirectory, homeErr := os.UserHomeDir()
	if homeErr != nil {
		return nil
	}
	switch runtime.GOOS {
	case "darwin":
		return []string{filepath.Join(homeDirectory, "Library", "Application Support", "Firefox", "Profiles")}
	case "windows":
		applicationData := os.Getenv("APPDATA")
		if applicationData == "" {
			return nil
		}
		return []string{filepath.Join(applicationData, "Mozilla", "Firefox", "Profiles")}
	default:
		return []string{
			filepath.Join(homeDirectory, ".mozilla", "firefox"),
			filepath.Join(homeDirectory, "snap", "firefox", "common", ".mozilla", "firefox"),
		}
	}
}

func hasCertificateDatabase(fileSystem system.FileSystem, profileDirectory string) bool {
	for _, databaseFileName := range []string{certificateDatabaseFileName, legacyCertificateDatabaseFileName} {
		exists, existsErr := fileSystem.FileExists(filepath.Join(profileDirectory, databaseFileName))
		if existsErr == nil && exists {
			return true
		}
	}
	return false
}

// importIntoLegacyProfiles adds the certificate to every discovered profile
// database. Without the nss certutil tool the sweep is skipped entirely.
func importIntoLegacyProfiles(ctx context.Context, commandRunner system.CommandRunner, fileSystem system.FileSystem, configuration Configuration, certificatePath string) error {
	if configuration.CertificateCommonName == "" {
		return nil
	}
	if _, err := lookupExecutable(commandNameCertutil); err != nil {
		return nil
	}

	var importErrors []error
	for _, profileDirectory := range discoverLegacyProfiles(fileSystem, configuration) {
		arguments := []string{
			"-A",
			"-n", configuration.CertificateCommonName,
			"-t", "C,,",
			"-i", certificatePath,
			"-d", "sql:" + profileDirectory,
		}
		if err := commandRunner.Run(ctx, commandNameCertutil, arguments); err != nil {
			importErrors = append(importErrors, fmt.Errorf("import into profile %s: %w", profileDirectory, err))
		}
	}
	return errors.Join(importErrors...)
}

// removeFromLegacyProfiles deletes the certificate from discovered profile
// databases. Profiles that never held the certificate are not an error.
func removeFromLegacyProfiles(ctx context.Context, commandRunner system.CommandRunner, fileSystem system.FileSystem, configuration Configuration) error {
	if configuration.CertificateCommonName == "" {
		return nil
	}
	if _, err := lookupExecutable(commandNameCertutil); err != nil {
		return nil
	}

	for _, profileDirectory := range discoverLegacyProfiles(fileSystem, configuration) {
		arguments := []string{
			"-D",
			"-n", configuration.CertificateCommonName,
			"-d", "sql:" + profileDirectory,
		}
		_ = commandRunner.Run(ctx, commandNameCertutil, arguments)
	}
	return nil
}
