/*
Package health scores a tenant's business health from connector records.

The engine computes three component scores from orders, inventory and
customer data (revenue growth, inventory turnover, repeat rate), a weighted
overall score renormalized over the components present, an order-count
trend and a data quality index. A component whose source slice is empty is
reported as nil; the engine never infers from zero data.

The baseline is deterministic: the same records and the same clock always
produce the same numbers. Adaptive mode layers a quality-scaled confidence
interval and ADWIN-style per-component drift flags on top without touching
the baseline.
*/
package health
