package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/user/moovie-reviews/internal/config"
	"github.com/user/moovie-reviews/internal/utils"
)

const (
	tmdbImageBase   = "https://image.tmdb.org/t/p/w500"
	posterCacheSize = 1000
	posterCacheTTL  = 24 * time.Hour
)

// PosterLookup 根据片名和年份查找海报地址，找不到返回空字符串
type PosterLookup interface {
	Lookup(ctx context.Context, title string, year int) string
}

// PosterService 通过 TMDB 搜索接口查找海报
type PosterService struct {
	apiKey  string
	baseURL string
	client  *utils.HTTPClient
	cache   *utils.TTLCache[string]
	group   singleflight.Group
	logger  zerolog.Logger
}

// NewPosterService 创建海报服务，未配置 API key 时返回 nil
func NewPosterService(cfg config.TMDBConfig, logger zerolog.Logger) *PosterService {
	if cfg.APIKey == "" {
		return nil
	}
	return &PosterService{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  utils.NewHTTPClient(cfg.Timeout),
		cache:   utils.NewTTLCache[string](posterCacheSize, posterCacheTTL),
		logger:  logger.With().Str("service", "poster").Logger(),
	}
}

type tmdbSearchResponse struct {
	Results []struct {
		PosterPath string `json:"poster_path"`
	} `json:"results"`
}

// Lookup 查询海报，任何错误都只记录日志并返回空字符串
func (s *PosterService) Lookup(ctx context.Context, title string, year int) string {
	if s == nil || strings.TrimSpace(title) == "" {
		return ""
	}
	key := fmt.Sprintf("%s|%d", strings.ToLower(strings.TrimSpace(title)), year)
	if poster, ok := s.cache.Get(key); ok {
		return poster
	}

	// 使用 singleflight 避免同一部电影并发重复请求
	val, err, _ := s.group.Do(key, func() (any, error) {
		return s.search(ctx, title, year)
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("title", title).Int("year", year).Msg("查询海报失败")
		return ""
	}
	poster := val.(string)
	s.cache.Set(key, poster)
	return poster
}

func (s *PosterService) search(ctx context.Context, title string, year int) (string, error) {
	q := url.Values{}
	q.Set("api_key", s.apiKey)
	q.Set("query", title)
	if year > 0 {
		q.Set("year", strconv.Itoa(year))
	}

	var result tmdbSearchResponse
	if err := s.client.GetJSON(ctx, s.baseURL+"/search/movie?"+q.Encode(), &result); err != nil {
		return "", err
	}
	if len(result.Results) == 0 || result.Results[0].PosterPath == "" {
		return "", nil
	}
	return tmdbImageBase + result.Results[0].PosterPath, nil
}
