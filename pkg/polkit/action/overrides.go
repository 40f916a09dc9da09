//
//  Copyright © Manetu Inc. All rights reserved.
//

package action

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/polkit-go/polkitd/pkg/polkit/common"
)

// OverrideStore reads and writes "<action_id>.defaults-override" files
// that mutate an action's three-valued implicit default. Write access is
// delegated to a separately-privileged helper in the reference design;
// this implementation provides both read (used by the registry at load
// time) and write (for embedders that run as the privileged helper
// themselves) since the spec leaves the write side out of scope but does
// not forbid an in-process implementation.
type OverrideStore struct {
	dir string
}

// NewOverrideStore returns a store rooted at dir.
func NewOverrideStore(dir string) *OverrideStore {
	return &OverrideStore{dir: dir}
}

func (s *OverrideStore) path(actionID string) string {
	return filepath.Join(s.dir, actionID+".defaults-override")
}

// Read loads the override for actionID, if present. ok is false if no
// override file exists.
func (s *OverrideStore) Read(actionID string) (t Triple, ok bool, err error) {
	data, readErr := os.ReadFile(s.path(actionID))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return Triple{}, false, nil
		}
		return Triple{}, false, common.Wrap(readErr, common.ErrInternal, "reading override file")
	}

	line := strings.TrimSpace(string(data))
	parts := strings.Split(line, ":")
	if len(parts) != 3 {
		return Triple{}, false, common.Newf(common.ErrInvalidArgument, "malformed override file for %s: expected any:inactive:active", actionID)
	}

	any, err := ParseImplicit(parts[0])
	if err != nil {
		return Triple{}, false, err
	}
	inactive, err := ParseImplicit(parts[1])
	if err != nil {
		return Triple{}, false, err
	}
	active, err := ParseImplicit(parts[2])
	if err != nil {
		return Triple{}, false, err
	}

	return Triple{AllowAny: any, AllowInactive: inactive, AllowActive: active}, true, nil
}

// Write persists an override for actionID, replacing any existing file.
func (s *OverrideStore) Write(actionID string, t Triple) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return common.Wrap(err, common.ErrInternal, "creating override directory")
	}
	line := t.AllowAny.String() + ":" + t.AllowInactive.String() + ":" + t.AllowActive.String() + "\n"
	if err := os.WriteFile(s.path(actionID), []byte(line), 0o644); err != nil {
		return common.Wrap(err, common.ErrInternal, "writing override file")
	}
	return nil
}

// Clear removes an override, reverting the action to its factory default.
func (s *OverrideStore) Clear(actionID string) error {
	err := os.Remove(s.path(actionID))
	if err != nil && !os.IsNotExist(err) {
		return common.Wrap(err, common.ErrInternal, "removing override file")
	}
	return nil
}
