package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/gazectl/internal/config"
	"github.com/danmuck/gazectl/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	kind := pflag.String("kind", "gazectl", "config kind: gazectl|gazesim")
	output := pflag.String("output", "", "output path for config template")
	validate := pflag.Bool("validate", false, "validate an existing config file")
	input := pflag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := pflag.Bool("force", false, "overwrite existing config file")
	pflag.Parse()

	logging.ConfigureRuntime()

	*kind = strings.ToLower(strings.TrimSpace(*kind))
	path, err := defaultPath(*kind)
	if err != nil {
		log.Fatal().Err(err).Msg("configgen")
	}

	if *validate {
		if *input != "" {
			path = *input
		}
		switch *kind {
		case "gazectl":
			_, err = config.LoadGazectlConfig(path)
		case "gazesim":
			_, err = config.LoadSimConfig(path)
		}
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("config invalid")
		}
		log.Info().Str("kind", *kind).Str("path", path).Msg("config valid")
		return
	}

	if *output != "" {
		path = *output
	}
	if err := config.WriteTemplate(path, *kind, *force); err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("write template")
	}
	log.Info().Str("kind", *kind).Str("path", path).Msg("wrote config template")
}

func defaultPath(kind string) (string, error) {
	switch kind {
	case "gazectl":
		return "cmd/gazectl/config.toml", nil
	case "gazesim":
		return "cmd/gazesim/config.toml", nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}
