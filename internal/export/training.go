package export

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"success-library/internal/domain"
	"success-library/internal/storage"
)

// trainingHeader is the feature set the model trainer consumes. Features
// are derived upstream by the trading engine and exported verbatim.
const trainingHeader = "token_address,num_hops,total_fees_bps,max_price_impact_bps,route_liquidity,profit_ratio,peak_roi,time_to_peak_secs"

// WriteTrainingCSV extracts closed SUCCESS stories carrying route
// features as CSV rows for the training pipeline. Stories without
// features (e.g. inserted before feature capture existed) are skipped.
// Returns the number of rows written.
func WriteTrainingCSV(ctx context.Context, store storage.StoryStore, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, trainingHeader); err != nil {
		return 0, fmt.Errorf("write training header: %w", err)
	}

	count := 0
	err := store.Scan(ctx, func(story *domain.SuccessStory) error {
		if story.Outcome != domain.OutcomeSuccess || story.Features == nil {
			return nil
		}

		peakROI := 0.0
		if story.PeakROI != nil {
			peakROI = *story.PeakROI
		}
		var tts int64
		if story.TimeToPeakSecs != nil {
			tts = *story.TimeToPeakSecs
		}

		f := story.Features
		_, err := fmt.Fprintf(bw, "%s,%d,%d,%d,%.6f,%.6f,%.6f,%d\n",
			story.TokenAddress,
			f.NumHops,
			f.TotalFeesBps,
			f.MaxPriceImpactBps,
			f.RouteLiquidity,
			f.ProfitRatio,
			peakROI,
			tts,
		)
		if err != nil {
			return fmt.Errorf("write training row %s: %w", story.ID, err)
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	if err := bw.Flush(); err != nil {
		return count, fmt.Errorf("flush training export: %w", err)
	}
	return count, nil
}
