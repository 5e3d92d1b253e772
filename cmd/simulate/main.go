package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/chain-custody/internal/core/domain"
	"github.com/rl1809/chain-custody/internal/core/validator"
	"github.com/rl1809/chain-custody/internal/logging"
)

type template struct {
	kind         string
	prefix       string
	manufacturer string
	shelfLife    time.Duration
	batchSize    int
	route        []hop
}

type hop struct {
	to           string
	transferType string
}

var templates = []template{
	{
		kind: "antibiotics", prefix: "ANT", manufacturer: "PharmaCorp",
		shelfLife: 730 * 24 * time.Hour, batchSize: 3,
		route: []hop{
			{"distributor", "Manufacturer-to-Distributor"},
			{"wholesaler", "Distributor-to-Wholesaler"},
			{"pharmacy_1", "Wholesaler-to-Pharmacy"},
		},
	},
	{
		kind: "vaccines", prefix: "VAX", manufacturer: "BioTech",
		shelfLife: 180 * 24 * time.Hour, batchSize: 2,
		route: []hop{
			{"distributor", "Manufacturer-to-Distributor"},
			{"hospital", "Distributor-to-Hospital"},
		},
	},
	{
		kind: "controlled", prefix: "CTR", manufacturer: "SecurePharm",
		shelfLife: 365 * 24 * time.Hour, batchSize: 2,
		route: []hop{
			{"distributor", "Manufacturer-to-Distributor"},
			{"pharmacy_2", "Distributor-to-Pharmacy"},
		},
	},
}

var participantNames = []string{"manufacturer", "distributor", "wholesaler", "pharmacy_1", "pharmacy_2", "hospital"}

type participant struct {
	name    string
	address common.Address
	cred    domain.Credential // zero for receive-only participants
}

func (p participant) hexKey() string {
	return hexutil.Encode(crypto.FromECDSA(p.cred.PrivateKey()))
}

type options struct {
	transport    string
	httpURL      string
	grpcTarget   string
	participants []string
	generate     bool
	concurrency  int
	batches      int
	timeout      time.Duration
	logLevel     string
}

type stats struct {
	registered atomic.Int32
	transfers  atomic.Int32
	verified   atomic.Int32
	failed     atomic.Int32
}

func main() {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "custody-simulate",
		Short: "Drive a manufacturer to pharmacy supply chain through the custody API",
		Long: "Registers batches of antibiotics, vaccines and controlled substances, moves each\n" +
			"product along its route and verifies the resulting custody chain.\n\n" +
			"The manufacturer key must be the server's registrar key. Other participants\n" +
			"are given as name=hexkey (or name=0xaddress for receive-only parties).",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.transport, "transport", "http", "http or grpc")
	f.StringVar(&opts.httpURL, "url", "http://localhost:8080", "HTTP base URL")
	f.StringVar(&opts.grpcTarget, "grpc", "localhost:50051", "gRPC target")
	f.StringArrayVarP(&opts.participants, "participant", "p", nil, "participant as name=hexkey or name=0xaddress")
	f.BoolVar(&opts.generate, "generate", false, "generate keys for participants not given (in-memory ledger only)")
	f.IntVar(&opts.concurrency, "concurrency", 4, "products moved in parallel")
	f.IntVar(&opts.batches, "batches", 1, "batches per product type")
	f.DurationVar(&opts.timeout, "timeout", 90*time.Second, "per request timeout")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseParticipants(raw []string, generate bool) (map[string]participant, error) {
	out := make(map[string]participant)
	for _, entry := range raw {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("participant %q: want name=value", entry)
		}
		if cred, err := domain.ParseCredential(value); err == nil {
			out[name] = participant{name: name, address: cred.Address(), cred: cred}
			continue
		}
		addr, err := validator.ParseAddress(name, value)
		if err != nil {
			return nil, fmt.Errorf("participant %q: neither a private key nor an address", name)
		}
		out[name] = participant{name: name, address: addr}
	}

	for _, name := range participantNames {
		if _, ok := out[name]; ok {
			continue
		}
		if !generate {
			return nil, fmt.Errorf("participant %q is missing", name)
		}
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		cred := domain.NewCredential(key)
		out[name] = participant{name: name, address: cred.Address(), cred: cred}
	}
	if out["manufacturer"].cred.IsZero() {
		return nil, errors.New("manufacturer needs a private key")
	}
	return out, nil
}

type product struct {
	tmpl    template
	payload validator.RegisterPayload
}

func generateBatch(t template, now time.Time) []product {
	batch := fmt.Sprintf("BATCH%d", 1000+rand.IntN(9000))
	out := make([]product, 0, t.batchSize)
	for range t.batchSize {
		out = append(out, product{
			tmpl: t,
			payload: validator.RegisterPayload{
				ProductID:       fmt.Sprintf("%s%d", t.prefix, 100+rand.IntN(900)),
				Manufacturer:    t.manufacturer,
				BatchNumber:     batch,
				ManufactureDate: now.Format(validator.DateLayout),
				ExpiryDate:      now.Add(t.shelfLife).Format(validator.DateLayout),
				GTIN:            fmt.Sprintf("0590123%d", 1000000+rand.IntN(9000000)),
				SerialNumber:    fmt.Sprintf("SER%d", 10000+rand.IntN(90000)),
			},
		})
	}
	return out
}

func run(ctx context.Context, opts options) error {
	log, err := logging.New(os.Stderr, opts.logLevel, "plain")
	if err != nil {
		return err
	}
	parties, err := parseParticipants(opts.participants, opts.generate)
	if err != nil {
		return err
	}

	var api custodyAPI
	switch opts.transport {
	case "http":
		api = newHTTPAPI(strings.TrimRight(opts.httpURL, "/"), opts.timeout)
	case "grpc":
		if api, err = newGRPCAPI(opts.grpcTarget); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown transport %q", opts.transport)
	}
	defer api.Close()

	healthy, err := api.Healthy(ctx)
	if err != nil || !healthy {
		return fmt.Errorf("ledger is not connected: %v", err)
	}

	var products []product
	now := time.Now().UTC()
	for _, t := range templates {
		for range opts.batches {
			products = append(products, generateBatch(t, now)...)
		}
	}

	var st stats
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for _, p := range products {
		g.Go(func() error {
			moveProduct(gctx, api, parties, p, &st, log)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().
		Int("products", len(products)).
		Int32("registered", st.registered.Load()).
		Int32("transfers", st.transfers.Load()).
		Int32("verified", st.verified.Load()).
		Int32("failed", st.failed.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("simulation finished")

	if st.failed.Load() > 0 {
		return fmt.Errorf("%d steps failed", st.failed.Load())
	}
	return nil
}

// moveProduct registers p, walks its route and checks the final custody chain.
// Steps stop at the first failure; a retriable failure is reported, never resent.
func moveProduct(ctx context.Context, api custodyAPI, parties map[string]participant, p product, st *stats, log zerolog.Logger) {
	log = log.With().Str("kind", p.tmpl.kind).Str("product", p.payload.ProductID+"/"+p.payload.SerialNumber).Logger()

	if _, err := api.Register(ctx, p.payload); err != nil {
		st.failed.Add(1)
		log.Error().Err(err).Msg("register failed")
		return
	}
	st.registered.Add(1)

	holder := parties["manufacturer"]
	for _, h := range p.tmpl.route {
		next := parties[h.to]
		if holder.cred.IsZero() {
			st.failed.Add(1)
			log.Error().Str("holder", holder.name).Msg("holder has no key, cannot transfer")
			return
		}
		resp, err := api.Transfer(ctx, validator.TransferPayload{
			ProductID:     p.payload.ProductID,
			SerialNumber:  p.payload.SerialNumber,
			NewOwner:      next.address.Hex(),
			TransferType:  h.transferType,
			SenderAddress: holder.address.Hex(),
			PrivateKey:    holder.hexKey(),
		})
		if err != nil {
			st.failed.Add(1)
			log.Error().Err(err).Str("from", holder.name).Str("to", next.name).Msg("transfer failed")
			return
		}
		st.transfers.Add(1)
		log.Info().Str("from", holder.name).Str("to", next.name).Uint64("block", resp.BlockNumber).Msg("transferred")
		holder = next
	}

	view, err := api.Verify(ctx, p.payload.ProductID, p.payload.SerialNumber)
	if err != nil {
		st.failed.Add(1)
		log.Error().Err(err).Msg("verify failed")
		return
	}
	if view.ProductInfo.CurrentOwner != holder.address.Hex() || len(view.TransferHistory) != len(p.tmpl.route) || !view.Consistent {
		st.failed.Add(1)
		log.Error().
			Str("owner", view.ProductInfo.CurrentOwner).
			Int("history", len(view.TransferHistory)).
			Strs("anomalies", view.Anomalies).
			Msg("custody chain mismatch")
		return
	}
	st.verified.Add(1)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
