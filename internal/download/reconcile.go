package download

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

type storeFile struct {
	name string
	path string
	size int64
}

// Reconcile makes a single pass over the flat store and removes inferior
// duplicates: files sharing the stem before their first '.' are grouped,
// and only the largest of each group survives. Files without a '.' are
// not part of any group.
func Reconcile(dir string, log *logrus.Logger) error {
	log.Info("Checking for duplicate files...")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	groups := make(map[string][]storeFile)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		dot := strings.Index(name, ".")
		if dot < 0 {
			continue
		}
		info, ierr := entry.Info()
		if ierr != nil {
			continue
		}
		stem := name[:dot]
		groups[stem] = append(groups[stem], storeFile{
			name: name,
			path: filepath.Join(dir, name),
			size: info.Size(),
		})
	}

	for _, files := range groups {
		if len(files) < 2 {
			continue
		}
		sort.Slice(files, func(i, j int) bool { return files[i].size < files[j].size })
		for _, f := range files[:len(files)-1] {
			log.WithField("file", f.name).Info("Removing duplicate")
			if err := os.Remove(f.path); err != nil {
				log.WithError(err).WithField("file", f.name).Warn("Failed to remove duplicate")
			}
		}
	}

	log.Info("Done")
	return nil
}
