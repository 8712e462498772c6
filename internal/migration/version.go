package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
)

const upSuffix = ".up.sql"

type migrationFile struct {
	version uint
	name    string
}

// upMigrations lists the embedded up scripts ordered by version. Two scripts
// sharing a version number are rejected since golang-migrate would only ever
// apply one of them.
func upMigrations() ([]migrationFile, error) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	files := make([]migrationFile, 0, len(entries))
	seen := make(map[uint]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, upSuffix) {
			continue
		}
		version, ok := parseMigrationVersion(name)
		if !ok {
			return nil, fmt.Errorf("invalid migration filename: %s", name)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, name, version)
		}
		seen[version] = name
		files = append(files, migrationFile{version: version, name: name})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no embedded migrations in %s", migrationsDir)
	}

	slices.SortFunc(files, func(a, b migrationFile) int {
		return int(a.version) - int(b.version)
	})
	return files, nil
}

// LatestMigrationVersion is the version the schema gate expects the database
// to be at.
func LatestMigrationVersion() (uint, error) {
	files, err := upMigrations()
	if err != nil {
		return 0, err
	}
	return files[len(files)-1].version, nil
}

// MigrationsChecksum hashes every up script with its file name, in version
// order. Editing an applied script changes the checksum and trips the gate.
func MigrationsChecksum() (string, error) {
	files, err := upMigrations()
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, f := range files {
		content, err := embeddedMigrations.ReadFile(migrationsDir + "/" + f.name)
		if err != nil {
			return "", fmt.Errorf("read migration %s: %w", f.name, err)
		}
		fmt.Fprintf(h, "%s\x00", f.name)
		h.Write(content)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// parseMigrationVersion reads the numeric prefix of "000001_name.up.sql".
func parseMigrationVersion(name string) (uint, bool) {
	prefix, _, found := strings.Cut(name, "_")
	if !found || prefix == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(v), true
}
