package aggregate

import "bizdash/pkg/records"

// Pair names an origin and a destination column.
type Pair struct {
	Origin string `json:"origin" yaml:"origin"`
	Dest   string `json:"dest" yaml:"dest"`
}

// IsZero reports whether the pair names no column.
func (p Pair) IsZero() bool { return p.Origin == "" && p.Dest == "" }

// RegionalPairs are the two regional comparisons of a dashboard.
type RegionalPairs struct {
	Countries Pair `json:"countries" yaml:"countries"`
	Cities    Pair `json:"cities" yaml:"cities"`
}

// DefaultRegionalPairs are the column names of the standard order export.
func DefaultRegionalPairs() RegionalPairs {
	return RegionalPairs{
		Countries: Pair{Origin: "Country A", Dest: "Country B"},
		Cities:    Pair{Origin: "City A", Dest: "City B"},
	}
}

// Default candidate columns of the dashboard KPIs, tried in order.
var (
	DefaultAmountColumns = []string{"Total Amount", "Amount", "Price"}
	DefaultStatusColumns = []string{"Order Status", "Status"}
)

// DashboardOptions tunes Dashboard. Zero fields take the defaults.
type DashboardOptions struct {
	Pairs         RegionalPairs
	AmountColumns []string
	StatusColumns []string
	TopN          int
}

func (o DashboardOptions) withDefaults() DashboardOptions {
	def := DefaultRegionalPairs()
	if o.Pairs.Countries.IsZero() {
		o.Pairs.Countries = def.Countries
	}
	if o.Pairs.Cities.IsZero() {
		o.Pairs.Cities = def.Cities
	}
	if len(o.AmountColumns) == 0 {
		o.AmountColumns = DefaultAmountColumns
	}
	if len(o.StatusColumns) == 0 {
		o.StatusColumns = DefaultStatusColumns
	}
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	return o
}

// ComparisonRow is one bar group of the origin/destination comparison chart.
type ComparisonRow struct {
	Category string `json:"category"`
	Origin   int    `json:"origin"`
	Dest     int    `json:"dest"`
}

// DashboardData is the KPI block and chart inputs of one record set.
type DashboardData struct {
	Records   int           `json:"records"`
	Countries RegionalStats `json:"countries"`
	Cities    RegionalStats `json:"cities"`

	// CompressionRate is Cities.CompressionRatio as a percentage.
	CompressionRate float64 `json:"compression_rate"`

	Amount   NumericSummary `json:"amount"`
	Statuses *Frequency     `json:"statuses"`

	TopOriginCountries []Ranked        `json:"top_origin_countries"`
	TopDestCountries   []Ranked        `json:"top_dest_countries"`
	TopStatuses        []Ranked        `json:"top_statuses"`
	Comparison         []ComparisonRow `json:"comparison"`
}

// Dashboard runs Aggregator.Dashboard with column.Default.
func Dashboard(recs []records.Record, opts DashboardOptions) DashboardData {
	return Aggregator{}.Dashboard(recs, opts)
}

// Dashboard computes the regional KPIs of recs: record count, both regional
// pairs, the city compression rate, positive amounts, status counts, and
// rankings of countries and statuses.
//
// Records with no status column are counted under column.Placeholder.
func (a Aggregator) Dashboard(recs []records.Record, opts DashboardOptions) DashboardData {
	opts = opts.withDefaults()

	d := DashboardData{
		Records:   len(recs),
		Countries: a.Regional(recs, opts.Pairs.Countries.Origin, opts.Pairs.Countries.Dest),
		Cities:    a.Regional(recs, opts.Pairs.Cities.Origin, opts.Pairs.Cities.Dest),
		Amount:    a.SumNumeric(recs, opts.AmountColumns...),
		Statuses:  NewFrequency(),
	}
	d.CompressionRate = d.Cities.CompressionRatio() * 100

	for _, rec := range recs {
		d.Statuses.Add(a.firstKey(rec, opts.StatusColumns))
	}

	d.TopOriginCountries = TopNTagged(d.Countries.Origin.Counts, "origin", opts.TopN)
	d.TopDestCountries = TopNTagged(d.Countries.Dest.Counts, "dest", opts.TopN)
	d.TopStatuses = TopN(d.Statuses, opts.TopN)

	d.Comparison = []ComparisonRow{
		{Category: "countries", Origin: len(d.Countries.Origin.Unique), Dest: len(d.Countries.Dest.Unique)},
		{Category: "cities", Origin: len(d.Cities.Origin.Unique), Dest: len(d.Cities.Dest.Unique)},
		{Category: "total", Origin: d.Countries.Origin.RawCount(), Dest: d.Countries.Dest.RawCount()},
	}
	return d
}
