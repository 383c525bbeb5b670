package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"

	"github.com/junnnnnw00/shinbo-notification/internal/source"
)

// DefaultSources is the built-in agency list used when SOURCES_FILE is unset.
func DefaultSources() []source.Config {
	return []source.Config{
		{
			ID:   "ulsan",
			Name: "울산신용보증재단",
			Kind: source.KindStaticHTML,
			HTML: &source.HTMLConfig{
				PageURL:       "https://www.ulsanshinbo.co.kr/04_notice/?mcode=0404010000",
				TableSelector: "div.board-text table tbody",
				RowSelector:   "tr",
				IDSelector:    "td.num",
				TitleSelector: "td.link a",
				PinnedClass:   "ntc",
			},
		},
		{
			ID:   "gyeongnam",
			Name: "경남신용보증재단",
			Kind: source.KindStaticHTML,
			HTML: &source.HTMLConfig{
				PageURL:        "https://www.gnsinbo.or.kr/bbs/board.php?bo_table=6_1_1_1",
				TableSelector:  "div.tbl_wrap table tbody",
				RowSelector:    "tr",
				IDSelector:     "td.td_num2",
				TitleSelector:  "td.td_subject div.bo_tit a",
				StatusSelector: "td.td_status",
				ActiveText:     "접수중",
				ActiveClass:    "ing",
			},
		},
		{
			ID:   "busan",
			Name: "부산신용보증재단",
			Kind: source.KindStatefulAPI,
			API: &source.APIConfig{
				RegionURL:    "https://untact.koreg.or.kr/web/lay1/program/S1T1C3/region.do",
				RegionCode:   "26",
				ListURL:      "https://untact.koreg.or.kr/web/lay1/program/S1T1C3/list.do",
				AjaxURL:      "https://untact.koreg.or.kr/web/lay1/program/S1T1C3/listAjax.do",
				Method:       "POST",
				IDField:      "seq",
				TitleField:   "title",
				StatusField:  "statusNm",
				ActiveStatus: "접수중",
				LinkTemplate: "view.do?seq={id}",
				Params: map[string]string{
					"searchType":    "",
					"searchKeyword": "",
					"bizType":       "",
				},
			},
		},
	}
}

type sourcesFile struct {
	Sources map[string]source.Config `json:"sources"`
}

// LoadSources returns DefaultSources when path is empty. Otherwise it reads
// path as JSON5 and merges "<name>.local.<ext>" over it when present; a key
// in the local file replaces the whole entry of the same key. Map keys double
// as source IDs when an entry has none. The result is ordered by ID.
func LoadSources(path string) ([]source.Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultSources(), nil
	}

	var out sourcesFile
	found := false

	base, err := readSourcesFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		out = base
		found = true
	}

	localPath := localName(path)
	local, err := readSourcesFile(localPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := mergo.Merge(&out, local, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge %s: %w", localPath, err)
		}
		slog.Info("merging sources with local overrides", "local", localPath)
		found = true
	}

	if !found {
		return nil, fmt.Errorf("read sources %s: %w", path, os.ErrNotExist)
	}

	sources := make([]source.Config, 0, len(out.Sources))
	for key, cfg := range out.Sources {
		if strings.TrimSpace(cfg.ID) == "" {
			cfg.ID = key
		}
		sources = append(sources, cfg)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	return sources, nil
}

func readSourcesFile(path string) (sourcesFile, error) {
	var out sourcesFile
	raw, err := os.ReadFile(path)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json5.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

// localName turns "dir/sources.json5" into "dir/sources.local.json5".
func localName(path string) string {
	dir := filepath.Dir(path)
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return filepath.Join(dir, stem+".local"+ext)
}
