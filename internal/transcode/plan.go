package transcode

import (
	"fmt"
	"path/filepath"
	"strings"
)

// rendition is one tier of the fixed encoding ladder. The ladder is part of
// the encoder contract: three video tiers sharing one stereo audio track.
type rendition struct {
	Name         string
	Width        int
	Height       int
	VideoBitrate string
	MaxRate      string
	BufSize      string
}

var defaultLadder = []rendition{
	{Name: "144p", Width: 256, Height: 144, VideoBitrate: "250k", MaxRate: "275k", BufSize: "500k"},
	{Name: "480p", Width: 854, Height: 480, VideoBitrate: "800k", MaxRate: "880k", BufSize: "1600k"},
	{Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: "5000k", MaxRate: "5500k", BufSize: "10000k"},
}

const (
	audioBitrate   = "128k"
	audioChannels  = "2"
	segmentSeconds = "4"
)

type encodePlan struct {
	args         []string
	outputDir    string
	manifestName string
}

// buildEncodePlan assembles the ffmpeg argument list that turns one input
// into a three-tier VOD HLS asset inside outputDir. Every produced filename
// is namespaced by baseName so assets can never collide in a shared
// directory: master "<base>.m3u8", variants "<base>_v<N>.m3u8", segments
// "<base>_v<N>_<seq>.ts".
func buildEncodePlan(input, outputDir, baseName string) (*encodePlan, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("input source is required")
	}
	if strings.TrimSpace(outputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if strings.TrimSpace(baseName) == "" {
		return nil, fmt.Errorf("base name is required")
	}

	args := []string{"-y", "-i", input}
	for range defaultLadder {
		args = append(args, "-map", "0:v:0", "-map", "0:a:0")
	}
	for idx, tier := range defaultLadder {
		args = append(args,
			fmt.Sprintf("-c:v:%d", idx), "libx264",
			fmt.Sprintf("-b:v:%d", idx), tier.VideoBitrate,
			fmt.Sprintf("-maxrate:v:%d", idx), tier.MaxRate,
			fmt.Sprintf("-bufsize:v:%d", idx), tier.BufSize,
			fmt.Sprintf("-filter:v:%d", idx), fmt.Sprintf("scale=%d:%d", tier.Width, tier.Height),
		)
	}
	args = append(args,
		"-c:a", "aac",
		"-b:a", audioBitrate,
		"-ac", audioChannels,
		"-f", "hls",
		"-hls_time", segmentSeconds,
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.ToSlash(filepath.Join(outputDir, baseName+"_v%v_%03d.ts")),
		"-master_pl_name", baseName+".m3u8",
		"-var_stream_map", varStreamMap(),
		filepath.ToSlash(filepath.Join(outputDir, baseName+"_v%v.m3u8")),
	)

	return &encodePlan{
		args:         args,
		outputDir:    outputDir,
		manifestName: baseName + ".m3u8",
	}, nil
}

// varStreamMap pairs each video tier with its own audio stream. Variant
// indices stay numeric so the %v placeholders expand to _v0/_v1/_v2 and the
// produced names remain deterministic.
func varStreamMap() string {
	entries := make([]string, 0, len(defaultLadder))
	for idx := range defaultLadder {
		entries = append(entries, fmt.Sprintf("v:%d,a:%d", idx, idx))
	}
	return strings.Join(entries, " ")
}
