package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"storyreel/internal/compose"
	"storyreel/internal/domain"
	"storyreel/internal/media"
	"storyreel/internal/prompt"
	"storyreel/internal/storage"
	"storyreel/internal/transitions"
)

var (
	storageFlag string
	profileFlag string
	ffmpegFlag  string
	matchFlag   string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "scenectl",
	Short: "Inspect and render a scene offline",
	Long: `scenectl works on a JSON scene file without the database or the API.

Examples:
  scenectl suggest scene.json
  scenectl plan scene.json --profile render.yaml
  scenectl prompts scene.json --match word
  scenectl compose scene.json --storage ./data/generated`,
	SilenceUsage: true,
}

var suggestCmd = &cobra.Command{
	Use:   "suggest <scene.json>",
	Short: "Print a transition suggestion for each adjacent shot pair",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scene, _, err := loadSceneFile(args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), transitions.Suggest(scene.Shots, transitions.ContextFor(scene)))
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <scene.json>",
	Short: "Print the composition plan without rendering",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scene, _, err := loadSceneFile(args[0])
		if err != nil {
			return err
		}
		profile, err := compose.LoadProfile(profileFlag)
		if err != nil {
			return err
		}
		files, err := storage.NewFileStore(storageRoot(args[0]), "")
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), profile.Plan(scene.ID, scene.Shots, files.Exists))
	},
}

var promptsCmd = &cobra.Command{
	Use:   "prompts <scene.json>",
	Short: "Print image and video prompts and the shot map prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scene, style, err := loadSceneFile(args[0])
		if err != nil {
			return err
		}
		var matcher prompt.Matcher = prompt.SubstringMatcher{}
		if matchFlag == "word" {
			matcher = prompt.WordMatcher{}
		}
		b := prompt.New(style, matcher)
		type shotPrompts struct {
			ShotID int64  `json:"shot_id"`
			Image  string `json:"image"`
			Video  string `json:"video"`
		}
		out := struct {
			Shots   []shotPrompts `json:"shots"`
			ShotMap string        `json:"shot_map"`
		}{ShotMap: prompt.ShotMap(scene, scene.Shots)}
		for i, shot := range scene.Shots {
			in := prompt.Input{Shot: shot}
			if i > 0 {
				in.Prev = &scene.Shots[i-1]
			}
			image := b.Image(in)
			in.Continuation = i > 0
			out.Shots = append(out.Shots, shotPrompts{ShotID: shot.ID, Image: image, Video: b.Video(in)})
		}
		return writeJSON(cmd.OutOrStdout(), out)
	},
}

var composeCmd = &cobra.Command{
	Use:   "compose <scene.json>",
	Short: "Render the scene video with ffmpeg",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scene, _, err := loadSceneFile(args[0])
		if err != nil {
			return err
		}
		level := zerolog.InfoLevel
		if verboseFlag {
			level = zerolog.DebugLevel
		}
		// Logs go to stderr; stdout carries the JSON result.
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Str("cmd", "scenectl").Int64("scene_id", scene.ID).Logger()

		profile, err := compose.LoadProfile(profileFlag)
		if err != nil {
			return err
		}
		files, err := storage.NewFileStore(storageRoot(args[0]), "")
		if err != nil {
			return err
		}
		assembler, err := compose.New(compose.Options{
			Profile:   profile,
			Processor: media.NewFFmpeg(media.Options{Path: ffmpegFlag, Logger: &logger}),
			Store:     files,
			Logger:    &logger,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		art, err := assembler.Compose(ctx, scene.Shots, scene.ID)
		if err != nil {
			return err
		}
		full, err := files.Path(art.Path)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), struct {
			Path  string        `json:"path"`
			File  string        `json:"file"`
			Clips int           `json:"clips"`
			Joins []domain.Join `json:"joins"`
		}{art.Path, full, len(art.ClipPaths), art.Joins})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&storageFlag, "storage", "s", "", "Storage root for image keys (default: the scene file's directory)")
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "YAML render profile")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Debug logging")
	composeCmd.Flags().StringVar(&ffmpegFlag, "ffmpeg", "ffmpeg", "ffmpeg binary")
	promptsCmd.Flags().StringVar(&matchFlag, "match", "substring", "Entity name matching: substring or word")

	rootCmd.AddCommand(suggestCmd, planCmd, promptsCmd, composeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func storageRoot(sceneFile string) string {
	if storageFlag != "" {
		return storageFlag
	}
	return filepath.Dir(sceneFile)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
