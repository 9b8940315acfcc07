package dov_fixtures

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewServer creates a HTTP handler which exposes the run history over
// GraphQL.
func NewServer(
	db *gorm.DB,
	logger *zap.Logger,
) http.Handler {
	r := mux.NewRouter()

	r.Use(
		WrapContextMiddleware(
			SetRequestID(),
			SetLogger(logger),
			SetDatabase(db),
		),
		responseHeaders(),
		accessLog(),
		mux.CORSMethodMiddleware(r),
	)

	schema, err := graphqlSchema()
	if err != nil {
		logger.Panic("The GraphQL schema is invalid", zap.Error(err))
	}

	r.Handle("/graphql", handler.New(&handler.Config{
		Schema:     &schema,
		Pretty:     true,
		GraphiQL:   true,
		Playground: true,
	})).Methods(http.MethodGet, http.MethodPost, http.MethodOptions, http.MethodHead)

	r.HandleFunc("/healthz", healthcheck).Methods(http.MethodOptions, http.MethodGet, http.MethodHead)

	return r
}

func graphqlSchema() (graphql.Schema, error) {
	attemptType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Attempt",
		Description: "The outcome of updating a single fixture",
		Fields: graphql.Fields{
			"ID": &graphql.Field{
				Type:    graphql.Int,
				Resolve: attemptField(func(a Attempt) any { return int(a.ID) }),
			},
			"Dataset": &graphql.Field{
				Type:    graphql.String,
				Resolve: attemptField(func(a Attempt) any { return a.Dataset }),
			},
			"Path": &graphql.Field{
				Type:        graphql.String,
				Description: "The fixture's path, relative to the fixture root",
				Resolve:     attemptField(func(a Attempt) any { return a.Path }),
			},
			"URL": &graphql.Field{
				Type:    graphql.String,
				Resolve: attemptField(func(a Attempt) any { return a.URL }),
			},
			"State": &graphql.Field{
				Type:        graphql.String,
				Description: `Either "succeeded" or "failed"`,
				Resolve:     attemptField(func(a Attempt) any { return a.State.String() }),
			},
			"Error": &graphql.Field{
				Type:    graphql.String,
				Resolve: attemptField(func(a Attempt) any { return a.Error }),
			},
			"Bytes": &graphql.Field{
				Type:        graphql.Int,
				Description: "How many bytes were written",
				Resolve:     attemptField(func(a Attempt) any { return a.Bytes }),
			},
		},
	})

	runType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Run",
		Description: "A single refresh of the fixtures",
		Fields: graphql.Fields{
			"ID": &graphql.Field{
				Type:    graphql.Int,
				Resolve: runField(func(r Run) any { return int(r.ID) }),
			},
			"UUID": &graphql.Field{
				Type:    graphql.String,
				Resolve: runField(func(r Run) any { return r.UUID }),
			},
			"BaseURL": &graphql.Field{
				Type:        graphql.String,
				Description: "The DOV instance fixtures were fetched from",
				Resolve:     runField(func(r Run) any { return r.BaseURL }),
			},
			"Started": &graphql.Field{
				Type:    graphql.DateTime,
				Resolve: runField(func(r Run) any { return r.Started }),
			},
			"Finished": &graphql.Field{
				Type:    graphql.DateTime,
				Resolve: runField(func(r Run) any { return r.Finished }),
			},
			"Succeeded": &graphql.Field{
				Type:    graphql.Int,
				Resolve: runField(func(r Run) any { return r.Succeeded }),
			},
			"Failed": &graphql.Field{
				Type:    graphql.Int,
				Resolve: runField(func(r Run) any { return r.Failed }),
			},
			"Interrupted": &graphql.Field{
				Type:    graphql.Boolean,
				Resolve: runField(func(r Run) any { return r.Interrupted }),
			},
			"Attempts": &graphql.Field{
				Type:    graphql.NewList(attemptType),
				Resolve: resolveAttempts,
			},
		},
	})

	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name: "RootQuery",
		Fields: graphql.Fields{
			"getRun": &graphql.Field{
				Description: "Get a run by ID",
				Type:        runType,
				Resolve:     resolveGetRun,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.Int),
					},
				},
			},
			"getRuns": &graphql.Field{
				Description: "List recent runs, newest first",
				Type:        graphql.NewList(runType),
				Resolve:     resolveGetRuns,
				Args: graphql.FieldConfigArgument{
					"limit": &graphql.ArgumentConfig{
						Type:         graphql.Int,
						DefaultValue: 20,
					},
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: rootQuery,
	})
}

func runField(get func(Run) any) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		run, ok := p.Source.(Run)
		if !ok {
			return nil, errors.New("expected a run")
		}
		return get(run), nil
	}
}

func attemptField(get func(Attempt) any) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		attempt, ok := p.Source.(Attempt)
		if !ok {
			return nil, errors.New("expected an attempt")
		}
		return get(attempt), nil
	}
}

func resolveGetRuns(p graphql.ResolveParams) (interface{}, error) {
	db := GetDatabase(p.Context)
	logger := GetLogger(p.Context)

	limit, _ := p.Args["limit"].(int)
	logger.Debug("Resolving runs", zap.Int("limit", limit))

	return ListRuns(p.Context, db, limit)
}

func resolveGetRun(p graphql.ResolveParams) (interface{}, error) {
	db := GetDatabase(p.Context)
	logger := GetLogger(p.Context)

	id, ok := p.Args["id"].(int)
	if !ok {
		return nil, errors.New("missing ID")
	}

	logger.Debug("Resolving run", zap.Int("id", id))

	run, err := GetRun(p.Context, db, uint(id))
	if err != nil {
		logger.Warn("Unable to load the run", zap.Int("id", id), zap.Error(err))
		return nil, err
	}

	return run, nil
}

func resolveAttempts(p graphql.ResolveParams) (interface{}, error) {
	run, ok := p.Source.(Run)
	if !ok {
		return nil, errors.New("expected a run")
	}

	if run.Attempts != nil {
		return run.Attempts, nil
	}

	db := GetDatabase(p.Context)

	var attempts []Attempt
	err := db.WithContext(p.Context).
		Where(&Attempt{RunID: run.ID}).
		Order("id").
		Find(&attempts).
		Error
	if err != nil {
		return nil, err
	}

	return attempts, nil
}

func healthcheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var response healthCheckResponse

	db, err := GetDatabase(r.Context()).DB()
	if err != nil {
		response.Database.Error = err.Error()
	} else if err = db.PingContext(ctx); err != nil {
		response.Database.Error = err.Error()
	} else {
		response.Database.Ok = true
	}

	response.Ok = response.Database.Ok

	w.Header().Add("Content-Type", "application/json")

	if response.Ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusInternalServerError)
	}

	if err := json.NewEncoder(w).Encode(&response); err != nil {
		GetLogger(r.Context()).Error("Unable to write the healthcheck", zap.Error(err))
	}
}

type healthCheckResponse struct {
	Ok       bool     `json:"ok"`
	Database dbHealth `json:"db"`
}

type dbHealth struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
