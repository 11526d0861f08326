// Package video talks to a MacCMS style aggregation API and reshapes its answers into
// the relay's video model.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"media-relay/work/client"
	"media-relay/work/clue"
	"media-relay/work/config"
	"media-relay/work/logger"
	"media-relay/work/types"
)

const (
	// sourceSeparator splits play sources inside vod_play_from and vod_play_url.
	sourceSeparator = "$$$"

	// maxRelated caps the related videos attached to a detail record.
	maxRelated = 12
)

// flexString accepts JSON strings and numbers; MacCMS installs disagree on id types.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

// vod is one record of a MacCMS listing.
type vod struct {
	ID       flexString `json:"vod_id"`
	Name     string     `json:"vod_name"`
	TypeID   flexString `json:"type_id"`
	TypeName string     `json:"type_name"`
	Pic      string     `json:"vod_pic"`
	Remarks  string     `json:"vod_remarks"`
	Time     string     `json:"vod_time"`
	Year     flexString `json:"vod_year"`
	Area     string     `json:"vod_area"`
	Lang     string     `json:"vod_lang"`
	Director string     `json:"vod_director"`
	Actor    string     `json:"vod_actor"`
	Content  string     `json:"vod_content"`
	PlayFrom string     `json:"vod_play_from"`
	PlayURL  string     `json:"vod_play_url"`
}

type listResponse struct {
	Code flexString `json:"code"`
	Msg  string     `json:"msg"`
	List []vod      `json:"list"`
}

// Client queries one aggregation API.
type Client struct {
	client *client.HeaderSettingClient
	api    string
	site   string
}

// NewClient builds a Client for cfg.VideoAPI. Item tokens are minted under cfg.VideoSite.
func NewClient(hc *client.HeaderSettingClient, cfg *config.Config) *Client {
	return &Client{client: hc, api: cfg.VideoAPI, site: cfg.VideoSite}
}

// Site returns the api key embedded in tokens minted by c.
func (c *Client) Site() string {
	return c.site
}

// Search lists the videos matching keyword.
func (c *Client) Search(ctx context.Context, keyword string) ([]types.VideoListItem, error) {
	list, err := c.query(ctx, url.Values{"ac": {"list"}, "wd": {keyword}})
	if err != nil {
		return nil, err
	}
	items := make([]types.VideoListItem, 0, len(list))
	for _, v := range list {
		items = append(items, c.item(v))
	}
	return items, nil
}

// Detail returns the full record of the video with the given upstream id, its
// episodes and related videos of the same type.
func (c *Client) Detail(ctx context.Context, id string) (*types.VideoInfo, error) {
	list, err := c.query(ctx, url.Values{"ac": {"detail"}, "ids": {id}})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: video %s", types.ErrNotFound, id)
	}

	v := list[0]
	info := &types.VideoInfo{
		VideoListItem: c.item(v),
		Director:      v.Director,
		Actor:         v.Actor,
		Content:       v.Content,
		Episodes:      ParseEpisodes(v.PlayFrom, v.PlayURL),
		Related:       []types.VideoListItem{},
	}

	if v.TypeID != "" {
		related, err := c.query(ctx, url.Values{"ac": {"list"}, "t": {string(v.TypeID)}})
		if err != nil {
			logger.Debug("{video/video - Detail} Related lookup for type %s failed: %v", v.TypeID, err)
		}
		for _, r := range related {
			if r.ID == v.ID {
				continue
			}
			info.Related = append(info.Related, c.item(r))
			if len(info.Related) == maxRelated {
				break
			}
		}
	}
	return info, nil
}

func (c *Client) query(ctx context.Context, params url.Values) ([]vod, error) {
	if c.api == "" {
		return nil, fmt.Errorf("%w: no video api configured", types.ErrNotFound)
	}
	sep := "?"
	if strings.Contains(c.api, "?") {
		sep = "&"
	}

	var resp listResponse
	if err := c.client.GetJSON(ctx, c.api+sep+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Code != "1" {
		return nil, fmt.Errorf("%w: api answered code %s: %s", types.ErrUpstream, resp.Code, resp.Msg)
	}
	return resp.List, nil
}

func (c *Client) item(v vod) types.VideoListItem {
	return types.VideoListItem{
		Token:    clue.Create(c.site, string(v.ID)),
		ID:       string(v.ID),
		Name:     strings.TrimSpace(v.Name),
		Poster:   v.Pic,
		Type:     v.TypeName,
		Remarks:  v.Remarks,
		Updated:  v.Time,
		Year:     string(v.Year),
		Area:     v.Area,
		Language: v.Lang,
	}
}

// ParseEpisodes reads vod_play_url ("name$url#name$url", one group per source separated
// by "$$$"). The source named like m3u8 in playFrom is preferred, then the first
// source whose links are m3u8, then the first source.
func ParseEpisodes(playFrom, playURL string) []types.VideoEpisode {
	groups := strings.Split(playURL, sourceSeparator)
	froms := strings.Split(playFrom, sourceSeparator)

	chosen := -1
	for i, from := range froms {
		if i < len(groups) && strings.Contains(strings.ToLower(from), "m3u8") {
			chosen = i
			break
		}
	}
	if chosen < 0 {
		for i, g := range groups {
			if strings.Contains(strings.ToLower(g), ".m3u8") {
				chosen = i
				break
			}
		}
	}
	if chosen < 0 {
		chosen = 0
	}

	episodes := []types.VideoEpisode{}
	for n, entry := range strings.Split(groups[chosen], "#") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, link, found := strings.Cut(entry, "$")
		if !found {
			name, link = fmt.Sprintf("%d", n+1), entry
		}
		link = strings.TrimSpace(link)
		if link == "" {
			continue
		}
		episodes = append(episodes, types.VideoEpisode{
			Name:  strings.TrimSpace(name),
			URL:   link,
			Token: clue.CreateParams(link),
		})
	}
	return episodes
}
