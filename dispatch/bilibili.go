package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// BilibiliSource recommends a random video from a configured list of
// bilibili video ids, resolving title and cover through the public view
// API.
type BilibiliSource struct {
	IDs    []string
	Cookie string
	HTTP   *http.Client

	mu  sync.Mutex
	rng *rand.Rand
}

func NewBilibiliSource(ids []string, cookie string) *BilibiliSource {
	return &BilibiliSource{
		IDs:    ids,
		Cookie: cookie,
		HTTP:   &http.Client{Timeout: 10 * time.Second},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type bilibiliViewResponse struct {
	Code int `json:"code"`
	Data struct {
		Title string `json:"title"`
		Pic   string `json:"pic"`
	} `json:"data"`
}

func (s *BilibiliSource) Random(ctx context.Context) (Video, error) {
	if len(s.IDs) == 0 {
		return Video{}, fmt.Errorf("bilibili: no video ids configured")
	}
	s.mu.Lock()
	id := s.IDs[s.rng.Intn(len(s.IDs))]
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://api.bilibili.com/x/web-interface/view?bvid="+id, nil)
	if err != nil {
		return Video{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	if s.Cookie != "" {
		req.Header.Set("Cookie", s.Cookie)
	}

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return Video{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Video{}, fmt.Errorf("bilibili: http %d", resp.StatusCode)
	}
	var out bilibiliViewResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Video{}, fmt.Errorf("bilibili: decode: %w", err)
	}
	if out.Code != 0 {
		return Video{}, fmt.Errorf("bilibili: api code %d", out.Code)
	}

	return Video{
		Title:    out.Data.Title,
		CoverURL: out.Data.Pic,
		JumpURL:  "https://www.bilibili.com/video/" + id,
	}, nil
}
