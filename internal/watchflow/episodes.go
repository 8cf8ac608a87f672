package watchflow

import (
	"sort"

	"github.com/Frozertiru-gif/Kina/internal/kina"
)

// EpisodesPerPage is the picker page size.
const EpisodesPerPage = 24

// Episodes is the loaded episode list of one season, ordered by number.
type Episodes struct {
	Season int
	list   []kina.Episode
}

func NewEpisodes(season int, list []kina.Episode) *Episodes {
	cp := append([]kina.Episode(nil), list...)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].EpisodeNumber < cp[j].EpisodeNumber })
	return &Episodes{Season: season, list: cp}
}

func (e *Episodes) Len() int {
	if e == nil {
		return 0
	}
	return len(e.list)
}

func (e *Episodes) indexOf(id int64) int {
	for i := range e.list {
		if e.list[i].ID == id {
			return i
		}
	}
	return -1
}

// Prev returns the episode before id. ok is false at the first episode, for
// an unknown id and when nothing is loaded.
func (e *Episodes) Prev(id int64) (kina.Episode, bool) {
	if e.Len() == 0 {
		return kina.Episode{}, false
	}
	i := e.indexOf(id)
	if i <= 0 {
		return kina.Episode{}, false
	}
	return e.list[i-1], true
}

// Next returns the episode after id.
func (e *Episodes) Next(id int64) (kina.Episode, bool) {
	if e.Len() == 0 {
		return kina.Episode{}, false
	}
	i := e.indexOf(id)
	if i < 0 || i >= len(e.list)-1 {
		return kina.Episode{}, false
	}
	return e.list[i+1], true
}

// EpisodePage is one page of the episode picker.
type EpisodePage struct {
	Items      []kina.Episode `json:"items"`
	Page       int            `json:"page"`
	TotalPages int            `json:"total_pages"`
	HasPrev    bool           `json:"has_prev"`
	HasNext    bool           `json:"has_next"`
}

// Page returns page n (1-based, clamped into range).
func (e *Episodes) Page(page, perPage int) EpisodePage {
	if perPage <= 0 {
		perPage = EpisodesPerPage
	}
	if page < 1 {
		page = 1
	}
	total := e.Len()
	totalPages := (total + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * perPage
	end := start + perPage
	if end > total {
		end = total
	}
	items := []kina.Episode{}
	if total > 0 {
		items = append(items, e.list[start:end]...)
	}
	return EpisodePage{
		Items:      items,
		Page:       page,
		TotalPages: totalPages,
		HasPrev:    page > 1,
		HasNext:    page < totalPages,
	}
}
