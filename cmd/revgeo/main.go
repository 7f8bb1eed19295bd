package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/woozymasta/mapnote/internal/config"
	"github.com/woozymasta/mapnote/internal/editor"
	"github.com/woozymasta/mapnote/internal/geo"
	"github.com/woozymasta/mapnote/internal/geocode"
	"github.com/woozymasta/mapnote/internal/logger"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile  string   `short:"c" long:"config"      env:"CONFIG_FILE" description:"Path to configuration file" default:"config.yaml"`
	Input       string   `short:"i" long:"input"       description:"CSV file with lat,lng rows (stdin when empty)"`
	Output      string   `short:"o" long:"output"      description:"Output file (stdout when empty)"`
	Format      string   `short:"f" long:"format"      description:"Output format" choice:"geojson" choice:"csv" default:"geojson"`
	Providers   []string `short:"P" long:"provider"    description:"Override geocoder providers, in order"`
	RedisAddr   string   `short:"r" long:"redis-addr"  env:"REDIS_ADDR" description:"Redis address for the lookup cache"`
	Concurrency int      `short:"p" long:"concurrency" env:"CONCURRENCY" description:"Concurrent lookups" default:"4"`
}

func main() {
	_ = godotenv.Load()

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()

	cfg, err := config.Load(opts.ConfigFile)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if len(opts.Providers) > 0 {
		cfg.Geocoder.Providers = opts.Providers
	}
	if opts.RedisAddr != "" {
		cfg.Redis.Addr = opts.RedisAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
	}

	resolver, err := geocode.New(cfg.Geocoder, rdb, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up reverse geocoding")
	}

	in := io.Reader(os.Stdin)
	if opts.Input != "" {
		f, err := os.Open(opts.Input)
		if err != nil {
			log.Fatal().Err(err).Str("path", opts.Input).Msg("Failed to open input")
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	coords, err := readCoords(in)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read coordinates")
	}

	log.Info().
		Int("coords", len(coords)).
		Int("concurrency", opts.Concurrency).
		Strs("geocoders", cfg.Geocoder.Providers).
		Msg("Starting reverse geocoding")

	start := time.Now()
	results := resolver.Batch(ctx, coords, opts.Concurrency)

	unknown := 0
	for _, r := range results {
		if r.District == resolver.Unknown() {
			unknown++
		}
	}

	if err := writeOutput(opts.Output, opts.Format, results); err != nil {
		log.Fatal().Err(err).Str("path", opts.Output).Msg("Failed to write results")
	}

	log.Info().
		Int("resolved", len(results)-unknown).
		Int("unknown", unknown).
		Dur("took", time.Since(start)).
		Msg("Reverse geocoding finished")
}

// readCoords parses lat,lng rows. A leading header row and blank lines are skipped.
func readCoords(r io.Reader) ([]geocode.Coord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var coords []geocode.Coord
	for first := true; ; first = false {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: want lat,lng", line)
		}

		lat, errLat := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		lng, errLng := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if errLat != nil || errLng != nil {
			if first {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid coordinate %q,%q", line, rec[0], rec[1])
		}
		if lat < -90 || lat > 90 {
			return nil, fmt.Errorf("line %d: latitude %v out of range", line, lat)
		}

		coords = append(coords, geocode.Coord{Lat: lat, Lng: lng})
	}

	return coords, nil
}

// writeOutput writes results to path, or stdout when path is empty.
func writeOutput(path, format string, results []geocode.Resolved) error {
	if path == "" {
		return writeResults(os.Stdout, format, results)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := writeResults(f, format, results); err != nil {
		_ = f.Close()
		return err
	}

	// We care about write errors on close
	return f.Close()
}

func writeResults(w io.Writer, format string, results []geocode.Resolved) error {
	if format == "csv" {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"lat", "lng", "district"}); err != nil {
			return err
		}
		for _, r := range results {
			row := []string{
				strconv.FormatFloat(r.Lat, 'f', -1, 64),
				strconv.FormatFloat(r.Lng, 'f', -1, 64),
				r.District,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	}

	points := make([]editor.AnnotatedPoint, len(results))
	for i, r := range results {
		points[i] = editor.AnnotatedPoint{ID: uuid.New(), Lat: r.Lat, Lng: r.Lng, District: r.District}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(geo.PointsCollection(points))
}
