package repository

import "fmt"

// ArtifactSchema returns the idempotent DDL for the artifact tables in db.
// Every table is a ReplacingMergeTree ordered by its natural key, so a rerun
// that rewrites the same key collapses to one row; reads use FINAL.
func ArtifactSchema(db string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.metric_observations (
            tenant_id String,
            metric LowCardinality(String),
            granularity LowCardinality(String),
            bucket DateTime64(3, 'UTC'),
            value Float64,
            dimensions Map(String, Float64)
        ) ENGINE = ReplacingMergeTree
        ORDER BY (tenant_id, metric, granularity, bucket)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.forecast_points (
            tenant_id String,
            metric LowCardinality(String),
            target_date DateTime64(3, 'UTC'),
            model_version LowCardinality(String),
            predicted Float64,
            lower Float64,
            upper Float64,
            generated_at DateTime64(3, 'UTC')
        ) ENGINE = ReplacingMergeTree
        ORDER BY (tenant_id, metric, target_date, model_version)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.cohort_metrics (
            tenant_id String,
            cohort_start DateTime64(3, 'UTC'),
            dimension String,
            period UInt16,
            cohort_size UInt32,
            active_count UInt32,
            revenue Float64,
            cumulative_revenue Float64,
            churn_count UInt32,
            upgrade_count UInt32,
            downgrade_count UInt32,
            retention_rate Float64
        ) ENGINE = ReplacingMergeTree
        ORDER BY (tenant_id, cohort_start, dimension, period)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.anomalies (
            tenant_id String,
            metric LowCardinality(String),
            date DateTime64(3, 'UTC'),
            actual Float64,
            expected Float64,
            z_score Float64,
            is_anomaly Bool,
            classification LowCardinality(String)
        ) ENGINE = ReplacingMergeTree
        ORDER BY (tenant_id, metric, date)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.correlations (
            tenant_id String,
            metric_x String,
            metric_y String,
            window_size UInt32,
            as_of DateTime64(3, 'UTC'),
            coefficient Float64,
            sample_size UInt32,
            t_stat Float64,
            significance LowCardinality(String),
            p_value_bound Float64,
            strength LowCardinality(String),
            degenerate Bool
        ) ENGINE = ReplacingMergeTree
        ORDER BY (tenant_id, metric_x, metric_y, window_size, as_of)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.risk_profiles (
            tenant_id String,
            subject_id String,
            model_version LowCardinality(String),
            factors Map(String, Float64),
            score Float64,
            tier LowCardinality(String),
            computed_at DateTime64(3, 'UTC')
        ) ENGINE = ReplacingMergeTree
        ORDER BY (tenant_id, subject_id, model_version)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.insights (
            tenant_id String,
            as_of DateTime64(3, 'UTC'),
            rule_id LowCardinality(String),
            category LowCardinality(String),
            type LowCardinality(String),
            message String,
            confidence UInt8,
            action String,
            priority LowCardinality(String)
        ) ENGINE = ReplacingMergeTree
        ORDER BY (tenant_id, as_of, rule_id)`, db),
	}
}
