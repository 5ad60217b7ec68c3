package global

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const recentAppsFileName = "recent-apps.json"

// RecentApp is a kernel endpoint the bridge has connected to before.
type RecentApp struct {
	AppID      string    `json:"app_id"`
	KernelURL  string    `json:"kernel_url"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Sessions   int       `json:"sessions"`
}

type AppsStore struct {
	dir string
	now func() time.Time
}

func NewAppsStore(dir string) *AppsStore {
	return &AppsStore{dir: dir, now: time.Now}
}

// ListApps returns known apps, most recently seen first.
func (s *AppsStore) ListApps() ([]RecentApp, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(s.dir, recentAppsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return []RecentApp{}, nil
		}
		return nil, err
	}
	var list []RecentApp
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].LastSeenAt.After(list[j].LastSeenAt) })
	return list, nil
}

// Touch records a session start for the app at kernelURL.
func (s *AppsStore) Touch(appID, kernelURL string) error {
	kernelURL = strings.TrimSpace(kernelURL)
	if kernelURL == "" {
		return errors.New("kernel url is required")
	}
	appID = strings.TrimSpace(appID)
	list, err := s.ListApps()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	for i := range list {
		if list[i].AppID == appID && list[i].KernelURL == kernelURL {
			list[i].LastSeenAt = now
			list[i].Sessions++
			return s.save(list)
		}
	}
	list = append(list, RecentApp{AppID: appID, KernelURL: kernelURL, LastSeenAt: now, Sessions: 1})
	return s.save(list)
}

func (s *AppsStore) Forget(appID, kernelURL string) error {
	list, err := s.ListApps()
	if err != nil {
		return err
	}
	out := make([]RecentApp, 0, len(list))
	for _, a := range list {
		if a.AppID != appID || a.KernelURL != kernelURL {
			out = append(out, a)
		}
	}
	return s.save(out)
}

func (s *AppsStore) save(list []RecentApp) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeJSONAtomically(filepath.Join(s.dir, recentAppsFileName), list)
}
