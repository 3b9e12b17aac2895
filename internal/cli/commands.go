package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pfrederiksen/bake-events/internal/event"
	"github.com/pfrederiksen/bake-events/internal/eviction"
	"github.com/pfrederiksen/bake-events/internal/pipeline"
	"github.com/pfrederiksen/bake-events/internal/place"
	"github.com/pfrederiksen/bake-events/internal/storage"
)

var (
	flagSort      string
	flagFrom      string
	flagTo        string
	flagPlaceIDs  []int64
	flagEvictDry  bool
	flagRetention int
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show which masters the next run would process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg.Store.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			opts, err := pipelineOptions(cfg)
			if err != nil {
				return err
			}
			p := pipeline.New(pipeline.Deps{Store: store, Logger: log}, opts)
			plan, err := p.Plan(ctx)
			if err != nil {
				return err
			}
			return WritePlan(cmd.OutOrStdout(), plan, OutputFormat(flagFormat))
		},
	}
}

func newEvictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Delete events dated before the retention cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("retention-days") {
				cfg.RetentionDays = flagRetention
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg.Store.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			var target storage.EventStore = store
			if flagEvictDry {
				target = storage.NewDryRun(store)
			}

			cutoff := event.Cutoff(time.Now().In(loc), cfg.RetentionDays)
			n, err := eviction.New(target, log).Sweep(ctx, cutoff)
			if err != nil {
				return err
			}

			verb := "Removed"
			if flagEvictDry {
				verb = "Would remove"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d events dated before %s\n", verb, n, event.FormatDate(cutoff))
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagEvictDry, "dry-run", false, "Count stale events without deleting them")
	cmd.Flags().IntVar(&flagRetention, "retention-days", 0, "Override retention_days for this sweep")
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print stored events as text, JSON or iCalendar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			format := OutputFormat(flagFormat)
			switch format {
			case FormatText, FormatJSON, FormatICS:
			default:
				return fmt.Errorf("invalid format: %s (must be 'text', 'json' or 'ics')", flagFormat)
			}
			order := SortOrder(flagSort)
			switch order {
			case SortByDate, SortByPlace, SortByTitle:
			default:
				return fmt.Errorf("invalid sort: %s (must be 'date', 'place' or 'title')", flagSort)
			}

			f := storage.EventFilter{PlaceIDs: flagPlaceIDs}
			for _, d := range []struct {
				flag string
				val  string
				dst  *string
			}{
				{"from", flagFrom, &f.OnOrAfter},
				{"to", flagTo, &f.Before},
			} {
				if d.val == "" {
					continue
				}
				t, err := event.ParseDate(d.val)
				if err != nil {
					return fmt.Errorf("--%s: %w", d.flag, err)
				}
				if d.flag == "to" {
					// --to is inclusive
					t = t.AddDate(0, 0, 1)
				}
				*d.dst = event.FormatDate(t)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if _, err := newLogger(cfg); err != nil {
				return err
			}
			store, err := openStore(ctx, cfg.Store.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.SelectEvents(ctx, f)
			if err != nil {
				return fmt.Errorf("selecting events: %w", err)
			}
			sortEvents(events, order)

			return WriteEvents(cmd.OutOrStdout(), &EventsResult{
				ExportedAt: time.Now().UTC(),
				Events:     events,
				Count:      len(events),
			}, format, flagVerbose)
		},
	}

	cmd.Flags().StringVar(&flagSort, "sort", "date", "Sort order: date, place or title")
	cmd.Flags().StringVar(&flagFrom, "from", "", "Only events on or after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flagTo, "to", "", "Only events on or before this date (YYYY-MM-DD)")
	cmd.Flags().Int64SliceVar(&flagPlaceIDs, "place", nil, "Only events for these place ids")
	return cmd
}

// placeAdder is implemented by stores that can seed the registry
type placeAdder interface {
	AddPlaces(ctx context.Context, places ...place.Place) error
}

// placeRecord is one entry of a places YAML file
type placeRecord struct {
	ID         int64  `yaml:"id"`
	Name       string `yaml:"name"`
	URL        string `yaml:"url"`
	PostalCode string `yaml:"postal_code"`
	Category   string `yaml:"category"`
	ParentID   *int64 `yaml:"parent_id"`
}

type placesFile struct {
	Places []placeRecord `yaml:"places"`
}

func newPlacesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "places",
		Short: "Manage the place registry",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import FILE",
		Short: "Insert or replace places from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			places, err := readPlaces(args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if _, err := newLogger(cfg); err != nil {
				return err
			}
			store, err := openStore(ctx, cfg.Store.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			adder, ok := store.(placeAdder)
			if !ok {
				return fmt.Errorf("store %T does not support importing places", store)
			}
			if err := adder.AddPlaces(ctx, places...); err != nil {
				return err
			}

			h := place.Build(places)
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d places (%d masters, %d invalid)\n",
				len(places), len(h.Masters()), len(h.Invalid))
			for _, inv := range h.Invalid {
				fmt.Fprintf(cmd.OutOrStdout(), "  invalid: %d %s: %s\n", inv.Place.ID, inv.Place.Name, inv.Reason)
			}
			return nil
		},
	})
	return cmd
}

// readPlaces parses a places file. Masters come first so parents exist
// before their branches.
func readPlaces(path string) ([]place.Place, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading places: %w", err)
	}
	var file placesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing places %s: %w", path, err)
	}

	places := make([]place.Place, 0, len(file.Places))
	for i, r := range file.Places {
		if r.ID <= 0 || r.Name == "" {
			return nil, fmt.Errorf("places[%d]: id and name are required", i)
		}
		places = append(places, place.Place{
			ID:         r.ID,
			Name:       r.Name,
			URL:        r.URL,
			PostalCode: r.PostalCode,
			Category:   r.Category,
			IsMaster:   r.ParentID == nil,
			ParentID:   r.ParentID,
		})
	}
	sort.SliceStable(places, func(i, j int) bool {
		return !places[i].IsBranch() && places[j].IsBranch()
	})
	return places, nil
}
