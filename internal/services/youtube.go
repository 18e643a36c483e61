package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/oogiv/oogiv-web/internal/models"
)

// YouTube converts YouTube videos to MP3 files through a RapidAPI conversion service.
type YouTube struct {
	lookupURL string
	apiKey    string
	apiHost   string

	client *http.Client
	now    func() time.Time

	logger *slog.Logger
}

// ErrInvalidVideoURL is returned when no video id can be found in a URL.
var ErrInvalidVideoURL = errors.New("invalid youtube url")

const (
	// DefaultYouTubeHost is the RapidAPI host of the conversion service.
	DefaultYouTubeHost = "youtube-mp36.p.rapidapi.com"

	youtubeTimeout = 180 * time.Second
)

var videoIDPattern = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([^&\n?#]+)`)

// NewYouTube creates a converter that looks videos up at lookupURL. An empty apiHost selects
// DefaultYouTubeHost.
func NewYouTube(lookupURL, apiKey, apiHost string, logger *slog.Logger) YouTube {
	if apiHost == "" {
		apiHost = DefaultYouTubeHost
	}
	return YouTube{
		lookupURL: lookupURL,
		apiKey:    apiKey,
		apiHost:   apiHost,
		client:    &http.Client{Timeout: youtubeTimeout},
		now:       time.Now,
		logger:    logger.With(slog.String("module", "youtube")),
	}
}

// VideoID extracts the video id from a watch, short or embed URL.
func VideoID(videoURL string) (string, bool) {
	m := videoIDPattern.FindStringSubmatch(videoURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Convert downloads the audio track of the video at videoURL as an MP3 file.
func (y YouTube) Convert(ctx context.Context, videoURL string) (models.File, error) {
	id, ok := VideoID(videoURL)
	if !ok {
		return models.File{}, ErrInvalidVideoURL
	}

	q := url.Values{"id": {id}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.lookupURL+"?"+q.Encode(), nil)
	if err != nil {
		return models.File{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("X-RapidAPI-Key", y.apiKey)
	req.Header.Set("X-RapidAPI-Host", y.apiHost)

	resp, err := y.client.Do(req)
	if err != nil {
		return models.File{}, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.File{}, statusError(resp)
	}

	var lookup struct {
		Link   string `json:"link"`
		Status string `json:"status"`
		Msg    string `json:"msg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lookup); err != nil {
		return models.File{}, fmt.Errorf("error decoding response: %w", err)
	}
	if lookup.Link == "" {
		return models.File{}, fmt.Errorf("no download link for video %s: %s", id, lookup.Msg)
	}

	y.logger.Debug("Downloading audio", slog.String("videoID", id))

	data, err := y.download(ctx, lookup.Link)
	if err != nil {
		return models.File{}, err
	}

	now := y.now()
	return models.File{
		Name:         fmt.Sprintf("youtube_audio_%d.mp3", now.UnixMilli()),
		Type:         "audio/mpeg",
		LastModified: now,
		Data:         data,
	}, nil
}

func (y YouTube) download(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating download request: %w", err)
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error downloading audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading audio: %w", err)
	}
	return data, nil
}
