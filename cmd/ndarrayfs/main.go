package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/ndarrayfs/go-ndarrayfs/core"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// Globals carries the process-wide dependencies every command needs,
// built once in main and threaded explicitly into each Run, matching
// main.go's discipline of a single logger constructed up front rather
// than package-level state.
type Globals struct {
	Logger  *zap.Logger
	Metrics *core.Metrics
}

var cli struct {
	Debug bool `help:"Enable verbose development logging." default:"false"`

	Create      CreateCmd      `cmd:"" help:"Create a new array."`
	Info        InfoCmd        `cmd:"" help:"Print an array's schema and fragment list."`
	Consolidate ConsolidateCmd `cmd:"" help:"Merge an array's fragments into one."`
	Vacuum      VacuumCmd      `cmd:"" help:"Open an array for vacuuming; deletes nothing (use consolidate --vacuum)."`
	KvCreate    KvCreateCmd    `cmd:"" name:"kv-create" help:"Create a key/value array."`
	KvPut       KvPutCmd       `cmd:"" name:"kv-put" help:"Write one key/value record."`
	KvGet       KvGetCmd       `cmd:"" name:"kv-get" help:"Read one key/value record."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("ndarrayfs"),
		kong.Description("Multi-dimensional array storage engine: create, inspect, consolidate, and vacuum arrays backed by a local directory or a cloud bucket."),
		kong.UsageOnError(),
	)

	logger, err := core.NewLogger(cli.Debug)
	ctx.FatalIfErrorf(err)
	defer logger.Sync()

	g := &Globals{Logger: logger, Metrics: core.NewMetrics(prometheus.NewRegistry())}

	err = ctx.Run(g)
	ctx.FatalIfErrorf(err)
}

// dimSpec parses "name:datatype:lo:hi[:extent]" CLI flag values.
type dimSpec struct {
	Name           string
	Datatype       core.Datatype
	Lo, Hi, Extent []byte
	HasExtent      bool
}

func parseDimSpec(s string) (dimSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 4 {
		return dimSpec{}, fmt.Errorf("dimension %q: want name:datatype:lo:hi[:extent]", s)
	}
	dt, err := core.ParseDatatype(parts[1])
	if err != nil {
		return dimSpec{}, err
	}
	lo, err := encodeBound(dt, parts[2])
	if err != nil {
		return dimSpec{}, err
	}
	hi, err := encodeBound(dt, parts[3])
	if err != nil {
		return dimSpec{}, err
	}
	spec := dimSpec{Name: parts[0], Datatype: dt, Lo: lo, Hi: hi}
	if len(parts) > 4 {
		extent, err := encodeBound(dt, parts[4])
		if err != nil {
			return dimSpec{}, err
		}
		spec.Extent, spec.HasExtent = extent, true
	}
	return spec, nil
}

func encodeBound(dt core.Datatype, s string) ([]byte, error) {
	if dt.IsInteger() {
		if dt.IsSigned() {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, err
			}
			return core.EncodeInt(dt, v), nil
		}
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return core.EncodeUint(dt, v), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return core.EncodeFloat(dt, v), nil
}

// parseAttrSpec parses "name:datatype[:var][:nullable]".
func parseAttrSpec(s string) (*core.Attribute, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return nil, fmt.Errorf("attribute %q: want name:datatype[:var][:nullable]", s)
	}
	dt, err := core.ParseDatatype(parts[1])
	if err != nil {
		return nil, err
	}
	cellValNum := uint32(1)
	nullable := false
	for _, flag := range parts[2:] {
		switch flag {
		case "var":
			cellValNum = core.VarLen
		case "nullable":
			nullable = true
		default:
			return nil, fmt.Errorf("attribute %q: unknown flag %q", s, flag)
		}
	}
	if dt == core.StringASCII {
		cellValNum = core.VarLen
	}
	return core.NewAttribute(parts[0], dt, cellValNum, nullable, core.NewFilterList())
}

type CreateCmd struct {
	URI      string   `arg:"" help:"Array location (path, s3://..., gs://..., azblob://...)."`
	Type     string   `help:"dense or sparse." enum:"dense,sparse" default:"sparse"`
	Dim      []string `help:"Dimension spec name:datatype:lo:hi[:extent], repeatable."`
	Attr     []string `help:"Attribute spec name:datatype[:var][:nullable], repeatable."`
	Capacity uint64   `help:"Sparse tile capacity." default:"10000"`
}

func (c *CreateCmd) Run(g *Globals) error {
	at := core.Sparse
	if c.Type == "dense" {
		at = core.Dense
	}
	s := core.NewSchemaBuilder(at)
	s.SetCapacity(c.Capacity)
	for _, spec := range c.Dim {
		ds, err := parseDimSpec(spec)
		if err != nil {
			return err
		}
		var extent []byte
		if ds.HasExtent {
			extent = ds.Extent
		}
		d, err := core.NewNumericDimension(ds.Name, ds.Datatype, ds.Lo, ds.Hi, extent)
		if err != nil {
			return err
		}
		if err := s.AddDimension(d); err != nil {
			return err
		}
	}
	for _, spec := range c.Attr {
		a, err := parseAttrSpec(spec)
		if err != nil {
			return err
		}
		if err := s.AddAttribute(a); err != nil {
			return err
		}
	}
	if err := s.Finalize(); err != nil {
		return err
	}
	ctx := context.Background()
	vfs, name, err := core.OpenVFSForURI(ctx, c.URI)
	if err != nil {
		return err
	}
	if err := core.CreateArray(ctx, vfs, name, s); err != nil {
		return err
	}
	g.Logger.Info("array created", zap.String("uri", c.URI))
	return nil
}

type InfoCmd struct {
	URI string `arg:"" help:"Array location."`
}

func (c *InfoCmd) Run(g *Globals) error {
	ctx := context.Background()
	vfs, name, err := core.OpenVFSForURI(ctx, c.URI)
	if err != nil {
		return err
	}
	a, err := core.OpenArray(ctx, vfs, name, core.DefaultConfig(), g.Logger)
	if err != nil {
		return err
	}
	defer a.Close()
	schema, fragments := a.Snapshot()
	fmt.Printf("array: %s\n", c.URI)
	fmt.Printf("type: %v  cell order: %v  tile order: %v  capacity: %d  allows dups: %v\n",
		schema.ArrayType(), schema.CellOrder(), schema.TileOrder(), schema.Capacity(), schema.AllowsDups())
	fmt.Printf("dimensions: %d  attributes: %d\n", schema.Domain().NumDimensions(), len(schema.Attributes()))
	for _, attr := range schema.Attributes() {
		fmt.Printf("  attribute %-20s var=%-5v nullable=%v\n", attr.Name(), attr.IsVar(), attr.Nullable())
	}
	fmt.Printf("fragments: %d\n", len(fragments))
	for _, f := range fragments {
		fmt.Printf("  %s  tiles=%d  ts=[%d,%d]\n", f.URI, f.Meta.TileCount, f.Meta.TimestampLo, f.Meta.TimestampHi)
	}
	return nil
}

type ConsolidateCmd struct {
	URI         string        `arg:"" help:"Array location."`
	Progress    bool          `help:"Show a progress bar."`
	Vacuum      bool          `help:"Delete the superseded fragments once consolidation commits."`
	VacuumGrace time.Duration `help:"Grace period before a superseded fragment may be vacuumed." default:"0s"`
}

func (c *ConsolidateCmd) Run(g *Globals) error {
	ctx := context.Background()
	vfs, name, err := core.OpenVFSForURI(ctx, c.URI)
	if err != nil {
		return err
	}
	a, err := core.OpenArray(ctx, vfs, name, core.DefaultConfig(), g.Logger)
	if err != nil {
		return err
	}
	defer a.Close()
	schema, fragments := a.Snapshot()
	if len(fragments) < 2 {
		g.Logger.Info("nothing to consolidate", zap.Int("fragments", len(fragments)))
		return nil
	}
	consolidator := core.NewConsolidator(vfs, name, schema)
	consolidator.ShowProgress(c.Progress)
	fragURI, err := consolidator.Consolidate(ctx, fragments)
	if err != nil {
		return err
	}
	if err := a.AddFragment(ctx, fragURI); err != nil {
		return err
	}
	g.Metrics.Consolidations.Inc()
	g.Logger.Info("consolidated", zap.String("fragment", fragURI), zap.Int("inputs", len(fragments)))

	if !c.Vacuum {
		return nil
	}
	now := time.Now()
	vacuumer := core.NewVacuumer(vfs, name)
	vacuumer.GracePeriod = c.VacuumGrace
	var obsolete []core.SupersededFragment
	for _, f := range fragments {
		obsolete = append(obsolete, core.SupersededFragment{URI: f.URI, SupersededAt: now})
	}
	removed, err := vacuumer.Vacuum(ctx, obsolete, now.Add(c.VacuumGrace))
	if err != nil {
		return err
	}
	g.Logger.Info("vacuumed", zap.Strings("removed", removed))
	return a.Refresh(ctx)
}

type VacuumCmd struct {
	URI   string        `arg:"" help:"Array location."`
	Grace time.Duration `help:"Grace period; fragments not superseded longer than this are kept." default:"10m"`
}

// Run opens the array and logs that there is nothing to vacuum: no
// superseded-fragment list is persisted, so this command deletes no
// fragment directories and the Grace flag has no effect. Superseded
// fragments are deleted only by "consolidate --vacuum".
func (c *VacuumCmd) Run(g *Globals) error {
	ctx := context.Background()
	vfs, name, err := core.OpenVFSForURI(ctx, c.URI)
	if err != nil {
		return err
	}
	a, err := core.OpenArray(ctx, vfs, name, core.DefaultConfig(), g.Logger)
	if err != nil {
		return err
	}
	defer a.Close()
	g.Logger.Info("vacuum is a no-op here: no superseded fragments are tracked outside a consolidate --vacuum run",
		zap.String("array", c.URI))
	return nil
}

type KvCreateCmd struct {
	URI  string   `arg:"" help:"KV array location."`
	Attr []string `help:"Value attribute spec name:datatype[:var][:nullable], repeatable."`
}

func (c *KvCreateCmd) Run(g *Globals) error {
	ctx := context.Background()
	vfs, name, err := core.OpenVFSForURI(ctx, c.URI)
	if err != nil {
		return err
	}
	var attrs []*core.Attribute
	for _, spec := range c.Attr {
		a, err := parseAttrSpec(spec)
		if err != nil {
			return err
		}
		attrs = append(attrs, a)
	}
	if err := core.CreateKV(ctx, vfs, name, attrs); err != nil {
		return err
	}
	g.Logger.Info("kv array created", zap.String("uri", c.URI))
	return nil
}

type KvPutCmd struct {
	URI   string   `arg:"" help:"KV array location."`
	Key   string   `required:"" help:"Key string."`
	Value []string `help:"Value as name=literal, repeatable; the literal's bytes are stored as given, not parsed per the attribute's datatype."`
}

func (c *KvPutCmd) Run(g *Globals) error {
	ctx := context.Background()
	vfs, name, err := core.OpenVFSForURI(ctx, c.URI)
	if err != nil {
		return err
	}
	kv, err := core.OpenKV(ctx, vfs, name, core.DefaultConfig(), g.Logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	values := map[string][]byte{}
	for _, kvPair := range c.Value {
		k, v, ok := strings.Cut(kvPair, "=")
		if !ok {
			return fmt.Errorf("value %q: want name=literal", kvPair)
		}
		values[k] = []byte(v)
	}
	return kv.Put(ctx, []byte(c.Key), core.StringASCII, values)
}

type KvGetCmd struct {
	URI   string   `arg:"" help:"KV array location."`
	Key   string   `required:"" help:"Key string."`
	Attrs []string `help:"Attribute names to fetch." sep:","`
}

func (c *KvGetCmd) Run(g *Globals) error {
	ctx := context.Background()
	vfs, name, err := core.OpenVFSForURI(ctx, c.URI)
	if err != nil {
		return err
	}
	kv, err := core.OpenKV(ctx, vfs, name, core.DefaultConfig(), g.Logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	values, found, err := kv.Get(ctx, []byte(c.Key), core.StringASCII, c.Attrs)
	if err != nil {
		return err
	}
	if !found {
		fmt.Println("not found")
		os.Exit(1)
	}
	for _, name := range c.Attrs {
		fmt.Printf("%s=%s\n", name, values[name])
	}
	return nil
}
