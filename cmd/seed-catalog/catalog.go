package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/product"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	maxLineBytes  = 1 << 20
)

// loadCatalog parses files concurrently and merges them in argument order,
// dropping duplicate ids.
func loadCatalog(ctx context.Context, lg *zap.Logger, files []string, defaultStock int64) ([]product.Product, error) {
	parsed := make([][]product.Product, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			products, err := readFile(ctx, path, defaultStock)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			lg.Info("Parsed products file", zap.String("path", path), zap.Int("count", len(products)))
			parsed[i] = products
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out, dropped := dedupe(parsed)
	if dropped > 0 {
		lg.Warn("Dropped duplicate product ids", zap.Int("count", dropped))
	}
	return out, nil
}

// dedupe keeps the first product of every id. The bloom filter answers the
// common "never seen" case; only its positives consult the exact set.
func dedupe(batches [][]product.Product) (out []product.Product, dropped int) {
	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	seen := make(map[string]struct{})
	for _, batch := range batches {
		for _, p := range batch {
			if filter.TestOrAddString(p.ID) {
				if _, dup := seen[p.ID]; dup {
					dropped++
					continue
				}
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return out, dropped
}

func readFile(ctx context.Context, path string, defaultStock int64) ([]product.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "create gzip reader")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return readProducts(ctx, r, defaultStock)
}

func readProducts(ctx context.Context, r io.Reader, defaultStock int64) ([]product.Product, error) {
	var (
		out     []product.Product
		lineNum int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		p, err := parseProduct([]byte(line), defaultStock)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNum)
		}
		out = append(out, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan")
	}
	return out, nil
}

func parseProduct(line []byte, defaultStock int64) (product.Product, error) {
	p := product.Product{Stock: defaultStock}
	err := jx.DecodeBytes(line).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "category":
			p.Category, err = d.Str()
		case "price":
			p.Price, err = decodeMoney(d)
		case "salePrice":
			if d.Next() == jx.Null {
				return d.Null()
			}
			p.SalePrice.Decimal, err = decodeMoney(d)
			p.SalePrice.Valid = err == nil
		case "stock":
			p.Stock, err = d.Int64()
		case "image":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var dst *string
				switch key {
				case "thumbnail":
					dst = &p.Image.Thumbnail
				case "mobile":
					dst = &p.Image.Mobile
				case "tablet":
					dst = &p.Image.Tablet
				case "desktop":
					dst = &p.Image.Desktop
				default:
					return d.Skip()
				}
				s, err := d.Str()
				*dst = s
				return err
			})
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return product.Product{}, err
	}

	switch {
	case p.ID == "":
		return product.Product{}, errors.New("missing id")
	case p.Price.IsNegative():
		return product.Product{}, errors.Errorf("product %s: negative price", p.ID)
	case p.Stock < 0:
		return product.Product{}, errors.Errorf("product %s: negative stock", p.ID)
	}
	return p, nil
}

func decodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}
