package mysql

import (
	"context"
	"fmt"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/domain"
)

const upsertViolationSQL = `
INSERT INTO violations (
    violation_id, issue_date, violation_date, issuing_agency_name,
    accident_indicator, location, violation_code, violation_desc,
    fine_amount, total_paid, latitude, longitude, month
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    issue_date = VALUES(issue_date),
    violation_date = VALUES(violation_date),
    issuing_agency_name = VALUES(issuing_agency_name),
    accident_indicator = VALUES(accident_indicator),
    location = VALUES(location),
    violation_code = VALUES(violation_code),
    violation_desc = VALUES(violation_desc),
    fine_amount = VALUES(fine_amount),
    total_paid = VALUES(total_paid),
    latitude = VALUES(latitude),
    longitude = VALUES(longitude),
    month = VALUES(month)`

const upsertWeatherSQL = `
INSERT INTO weather_daily (
    weather_date, tempmax, tempmin, temp, precip,
    humidity, windspeed, conditions, is_rain
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    tempmax = VALUES(tempmax),
    tempmin = VALUES(tempmin),
    temp = VALUES(temp),
    precip = VALUES(precip),
    humidity = VALUES(humidity),
    windspeed = VALUES(windspeed),
    conditions = VALUES(conditions),
    is_rain = VALUES(is_rain)`

// UpsertViolations writes one batch inside a single transaction. Re-ingested
// rows overwrite every non-key column, so a corrected upstream record wins.
// MySQL counts an updated key as two affected rows, so the attempted row
// count is returned instead of the driver's figure.
func (s *Store) UpsertViolations(ctx context.Context, batch []domain.Violation) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin violations batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertViolationSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare violations upsert: %w", err)
	}
	defer stmt.Close()

	for _, v := range batch {
		if _, err := stmt.ExecContext(ctx,
			v.ViolationID, v.IssueDate, v.ViolationDate, v.IssuingAgencyName,
			v.AccidentIndicator, v.Location, v.ViolationCode, v.ViolationDesc,
			v.FineAmount, v.TotalPaid, v.Latitude, v.Longitude, v.Month,
		); err != nil {
			return 0, fmt.Errorf("upsert violation %s: %w", v.ViolationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit violations batch: %w", err)
	}
	return int64(len(batch)), nil
}

// UpsertWeatherDays writes one batch of daily observations inside a single
// transaction, overwriting non-key columns on re-ingest.
func (s *Store) UpsertWeatherDays(ctx context.Context, batch []domain.WeatherDay) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin weather batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertWeatherSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare weather upsert: %w", err)
	}
	defer stmt.Close()

	for _, w := range batch {
		if _, err := stmt.ExecContext(ctx,
			w.Date, w.TempMax, w.TempMin, w.Temp, w.Precip,
			w.Humidity, w.WindSpeed, w.Conditions, w.IsRain,
		); err != nil {
			return 0, fmt.Errorf("upsert weather %s: %w", w.Date.Format(domain.DateLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit weather batch: %w", err)
	}
	return int64(len(batch)), nil
}
