package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rs/zerolog/log"

	"github.com/tripwise/tripwise-client/api"
	"github.com/tripwise/tripwise-client/service"
	"github.com/tripwise/tripwise-client/suggest"
	"github.com/tripwise/tripwise-client/types"
)

const usage = `usage: tripwise [flags] <command> [args]

commands:
  login         log in with --email and --password
  register      create an account with --email, --password and --name
  logout        drop the stored session
  me            show the logged in user
  trips         list your trips
  trip <id>     show a trip
  delete <id>   delete a trip
  nearby <id>   suggest places around a trip
  tips <id>     show travel tips for a trip
  destinations  suggest destinations from the --answer values

flags:
`

func main() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	flag.Bool("debug", false, "sets log level to debug")
	flag.String("api", "http://localhost:3333", "sets the backend base URL")
	flag.String("session", filepath.Join(home, ".tripwise", "session.json"), "sets the session file")
	flag.Duration("timeout", 30*time.Second, "sets the timeout of each backend request")
	flag.String("loginPath", api.DefaultLoginPath, "sets the route shown when the session expires")
	flag.String("email", "", "user email for login and register")
	flag.String("password", "", "user password for login and register")
	flag.String("name", "", "user name for register")
	flag.StringArray("answer", nil, "preference form answer as key=value, can be repeated")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	// Initialize Viper
	viper.SetEnvPrefix("TRIPWISE")
	if err := viper.BindPFlags(flag.CommandLine); err != nil {
		panic(err)
	}
	viper.AutomaticEnv()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	registry := prometheus.NewRegistry()
	srv, err := service.New(&service.Config{
		APIURL:      viper.GetString("api"),
		SessionFile: viper.GetString("session"),
		Timeout:     viper.GetDuration("timeout"),
		LoginPath:   viper.GetString("loginPath"),
		Debug:       viper.GetBool("debug"),
		Registerer:  registry,
		Navigate: func(to string) {
			fmt.Fprintf(os.Stderr, "session expired, log in again (%s)\n", to)
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create service")
	}
	defer srv.Close()

	// cancel the request in flight if interrupt received
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, srv, args[0], args[1:])
	logMetrics(registry)
	switch {
	case err == nil:
	case api.IsAborted(err):
		log.Warn().Msg("cancelled")
	default:
		log.Debug().Err(err).Str("command", args[0]).Msg("command failed")
		fmt.Fprintln(os.Stderr, commandMessage(err))
		srv.Close()
		stop()
		os.Exit(1)
	}
}

var errUsage = fmt.Errorf("usage")

// commandMessage returns the text shown to the user for a failed command.
func commandMessage(err error) string {
	switch {
	case errors.Is(err, errUsage), errors.Is(err, suggest.ErrNoMarkers), errors.Is(err, suggest.ErrTripNotSaved):
		return err.Error()
	}
	return api.UserMessage(err)
}

func run(ctx context.Context, srv *service.Service, command string, args []string) error {
	switch command {
	case "login":
		if err := srv.Login(ctx, viper.GetString("email"), viper.GetString("password")); err != nil {
			return err
		}
		fmt.Println("logged in")
	case "register":
		if err := srv.Register(ctx, &api.Register{
			Email:    viper.GetString("email"),
			Password: viper.GetString("password"),
			Name:     viper.GetString("name"),
		}); err != nil {
			return err
		}
		fmt.Println("registered")
	case "logout":
		srv.Logout()
		fmt.Println("logged out")
	case "me":
		user, err := srv.API.CurrentUser(ctx)
		if err != nil {
			return err
		}
		return printJSON(user)
	case "trips":
		list, err := srv.API.ListTrips(ctx)
		if err != nil {
			return err
		}
		for _, t := range list {
			fmt.Printf("%s\t%s\n", t.ID, t.Name)
		}
	case "trip":
		id, err := tripArg(args)
		if err != nil {
			return err
		}
		trip, err := srv.API.GetTrip(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(trip)
	case "delete":
		id, err := tripArg(args)
		if err != nil {
			return err
		}
		if err := srv.API.DeleteTrip(ctx, id); err != nil {
			return err
		}
		fmt.Println("deleted")
	case "nearby":
		id, err := tripArg(args)
		if err != nil {
			return err
		}
		editor, err := srv.Open(ctx, id)
		if err != nil {
			return err
		}
		suggestions, params, err := srv.Planner.Nearby(ctx, editor.Markers(), answers())
		if err != nil {
			return err
		}
		log.Info().Int("radius", params.Radius).Msgf("%d places found", len(suggestions))
		return printJSON(suggestions)
	case "tips":
		id, err := tripArg(args)
		if err != nil {
			return err
		}
		tips, err := srv.Planner.Tips(ctx, id)
		if err != nil {
			return err
		}
		for _, tip := range tips {
			fmt.Println("-", tip)
		}
	case "destinations":
		list, err := srv.API.DestinationSuggestions(ctx, answers())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return api.ErrNoResults
		}
		return printJSON(list)
	default:
		flag.Usage()
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
	return nil
}

func tripArg(args []string) (types.ID, error) {
	if len(args) != 1 || args[0] == "" {
		return types.ID{}, fmt.Errorf("%w: expected a trip id", errUsage)
	}
	return types.PersistedID(args[0]), nil
}

// answers parses the --answer flags. Numbers and booleans are sent as such.
func answers() api.Answers {
	a := api.Answers{}
	for _, kv := range viper.GetStringSlice("answer") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			log.Warn().Str("answer", kv).Msg("ignoring answer, expected key=value")
			continue
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			a[k] = n
		} else if b, err := strconv.ParseBool(v); err == nil {
			a[k] = b
		} else {
			a[k] = v
		}
	}
	return a
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// logMetrics writes the request counters at debug level.
func logMetrics(registry *prometheus.Registry) {
	families, err := registry.Gather()
	if err != nil {
		log.Debug().Err(err).Msg("could not gather metrics")
		return
	}
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		log.Debug().Str("metric", mf.GetName()).Float64("total", total).Msg("metrics")
	}
}
