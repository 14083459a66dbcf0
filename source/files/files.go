package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/root-talis/schemagate/internal/ddl"
	"github.com/root-talis/schemagate/migration"
	"github.com/root-talis/schemagate/source"
)

// Source reads revisions named V<14-digit version>_<name>.up.<ext> (and the
// optional .down.<ext> counterpart) from a directory of an fs.FS.
type Source struct {
	fsys fs.FS
	dir  string

	// writeDir is set for sources backed by a real directory.
	writeDir string

	escapes ddl.Escapes
}

type Option func(*Source)

// WithBackslashEscapes splits revision scripts with MySQL string rules, where
// a backslash escapes the next character.
func WithBackslashEscapes() Option {
	return func(rdr *Source) {
		rdr.escapes = ddl.BackslashEscapes
	}
}

const versionLength = 14

var (
	ErrMigrationsDirectoryIsNotADirectory = errors.New("migrationsDirectory is not a directory")
)

func NewFilesSource(fsys fs.FS, directory string, opts ...Option) (*Source, error) {
	stat, err := fs.Stat(fsys, directory)
	if err != nil {
		return nil, fmt.Errorf("failed to stat migrations directory: %w", err)
	}

	if !stat.IsDir() {
		return nil, ErrMigrationsDirectoryIsNotADirectory
	}

	rdr := &Source{
		fsys: fsys,
		dir:  directory,
	}
	for _, opt := range opts {
		opt(rdr)
	}

	return rdr, nil
}

// NewDirSource reads from and writes to a directory on disk. Unlike
// NewFilesSource it accepts a directory that does not exist yet; it then
// holds no revisions until Init creates it.
func NewDirSource(directory string, opts ...Option) *Source {
	rdr := &Source{
		fsys:     os.DirFS(directory),
		dir:      ".",
		writeDir: directory,
	}
	for _, opt := range opts {
		opt(rdr)
	}

	return rdr
}

func (rdr *Source) GetAvailableMigrations() ([]migration.Description, error) {
	migrations, _, err := rdr.scan()
	if err != nil {
		return nil, err
	}

	keys := getSortedVersions(migrations)
	return buildMigrationsSlice(keys, migrations), nil
}

func (rdr *Source) Revisions() ([]migration.Revision, error) {
	migrations, upFiles, err := rdr.scan()
	if err != nil {
		return nil, err
	}

	keys := getSortedVersions(migrations)
	result := make([]migration.Revision, 0, len(keys))
	for _, k := range keys {
		description := migrations[migration.Version(k)]

		fileName, ok := upFiles[description.Version]
		if !ok {
			// only a .down file exists; nothing to apply
			continue
		}

		content, err := fs.ReadFile(rdr.fsys, path.Join(rdr.dir, fileName))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", fileName, err)
		}

		result = append(result, migration.Revision{
			Migration:  description.Migration,
			Statements: ddl.SplitWith(string(content), rdr.escapes),
		})
	}

	return result, nil
}

// Init creates the backing directory.
func (rdr *Source) Init() error {
	if rdr.writeDir == "" {
		return fmt.Errorf("migrations source %s is read-only", rdr.dir)
	}
	if err := os.MkdirAll(rdr.writeDir, 0o755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}
	return nil
}

// Save writes rev as V<version>_<name>.up.sql.
func (rdr *Source) Save(rev migration.Revision) error {
	if err := rdr.Init(); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "-- %s\n\n", rev.Name)
	for _, stmt := range rev.Statements {
		b.WriteString(strings.TrimSpace(stmt))
		b.WriteString(";\n\n")
	}

	fileName := fmt.Sprintf("V%0*d_%s.up.sql", versionLength, uint64(rev.Version), rev.Name)
	if err := os.WriteFile(filepath.Join(rdr.writeDir, fileName), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write migration %s: %w", fileName, err)
	}

	return nil
}

var _ source.Source = (*Source)(nil)
var _ source.Writer = (*Source)(nil)

func (rdr *Source) scan() (versionMap, map[migration.Version]string, error) {
	dirEntries, err := fs.ReadDir(rdr.fsys, rdr.dir)
	if err != nil {
		if rdr.writeDir != "" && errors.Is(err, fs.ErrNotExist) {
			return versionMap{}, map[migration.Version]string{}, nil
		}
		return nil, nil, fmt.Errorf("failed to read contents of migrations directory: %w", err)
	}

	// find all suitable migrations and build a collection of descriptions
	migrations := make(versionMap)
	upFiles := make(map[migration.Version]string)
	for _, entry := range dirEntries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}

		fileName := entry.Name()
		mig, direction, err := getValidMigrationFromFileName(fileName)
		if err != nil {
			continue
		}

		if err := migrations.updateDescription(mig, direction); err != nil {
			return nil, nil, fmt.Errorf("failed to parse directory entries: %w", err)
		}

		if direction == migration.Up {
			upFiles[mig.Version] = fileName
		}
	}

	return migrations, upFiles, nil
}

func getSortedVersions(migrations versionMap) []uint64 {
	keys := make([]uint64, 0, len(migrations))

	for k := range migrations {
		keys = append(keys, uint64(k))
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	return keys
}

func buildMigrationsSlice(keys []uint64, migrations versionMap) []migration.Description {
	result := make([]migration.Description, len(keys))
	for i, k := range keys {
		result[i] = migrations[migration.Version(k)]
	}
	return result
}

type versionMap map[migration.Version]migration.Description

func (m versionMap) updateDescription(mig migration.Migration, direction migration.Direction) error {
	version, exists := m[mig.Version]

	switch {
	case !exists:
		m[mig.Version] = migration.Description{
			Migration: mig,
			CanUndo:   direction == migration.Down,
		}

	case version.Name != mig.Name:
		return fmt.Errorf(
			"%w: migration %d already exists with name \"%s\" (new name \"%s\" is encountered)",
			source.ErrMigrationDuplicated,
			mig.Version,
			version.Name,
			mig.Name,
		)

	case direction == migration.Down:
		version.CanUndo = true
		m[mig.Version] = version
	}

	return nil
}

func getValidMigrationFromFileName(fileName string) (migration.Migration, migration.Direction, error) {
	if !strings.HasPrefix(fileName, "V") {
		return migration.Migration{}, 0, fmt.Errorf("migration file name is invalid: %s", fileName)
	}

	base, direction, ok := splitDirectionSuffix(strings.TrimPrefix(fileName, "V"))
	if !ok {
		return migration.Migration{}, 0, fmt.Errorf("migration file name has no .up.<ext> or .down.<ext> suffix: %s", fileName)
	}

	asRunes := []rune(base)

	if len(asRunes) < versionLength+1 {
		return migration.Migration{}, 0, fmt.Errorf("migration file name is too short to be valid: %s", fileName)
	}

	version := asRunes[:versionLength]

	for _, c := range version {
		if !unicode.IsDigit(c) {
			return migration.Migration{}, 0, fmt.Errorf(
				"migration file name does not contain a valid version (symbol \"%c\" is not allowed): %s",
				c,
				fileName,
			)
		}
	}

	versionAsInt, err := strconv.ParseUint(string(version), 10, migration.VersionBits)
	if err != nil {
		return migration.Migration{}, 0, fmt.Errorf("migration file name does not contain a valid version: %s", fileName)
	}

	nameAsRunes := asRunes[versionLength:]
	if nameAsRunes[0] != '_' {
		return migration.Migration{}, 0, fmt.Errorf("migration file is missing an underscore after version (%c given): %s", nameAsRunes[0], fileName)
	}

	name := strings.TrimPrefix(string(nameAsRunes), "_")
	if name == "" {
		return migration.Migration{}, 0, fmt.Errorf("migration file has no name: %s", fileName)
	}

	return migration.Migration{
		Version: migration.Version(versionAsInt),
		Name:    name,
	}, direction, nil
}

// splitDirectionSuffix cuts ".up.<ext>" or ".down.<ext>" off a file name.
func splitDirectionSuffix(fileName string) (string, migration.Direction, bool) {
	ext := path.Ext(fileName)
	if len(ext) < 2 {
		return "", 0, false
	}
	rest := strings.TrimSuffix(fileName, ext)

	switch {
	case strings.HasSuffix(rest, ".up"):
		return strings.TrimSuffix(rest, ".up"), migration.Up, true
	case strings.HasSuffix(rest, ".down"):
		return strings.TrimSuffix(rest, ".down"), migration.Down, true
	}

	return "", 0, false
}
