package stats

import (
	"bytes"
	"fmt"
	"image/color"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/aliskhannn/image-transformer/internal/model"
)

const (
	chartWidth  = 640
	chartHeight = 320
	chartMargin = 32.0
)

var (
	barColor  = color.RGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff}
	axisColor = color.RGBA{R: 0x6b, G: 0x72, B: 0x80, A: 0xff}
)

// RenderChart draws the daily counts as a PNG bar chart.
func RenderChart(data []model.DailyCount) ([]byte, error) {
	dc := gg.NewContext(chartWidth, chartHeight)
	dc.SetColor(color.White)
	dc.Clear()

	maxCount := 1
	for _, d := range data {
		maxCount = max(maxCount, d.Count)
	}

	plotW := float64(chartWidth) - 2*chartMargin
	plotH := float64(chartHeight) - 3*chartMargin
	baseline := chartMargin + plotH

	dc.SetColor(axisColor)
	dc.SetLineWidth(1)
	dc.DrawLine(chartMargin, baseline, chartMargin+plotW, baseline)
	dc.Stroke()

	if len(data) > 0 {
		slot := plotW / float64(len(data))
		barW := slot * 0.6

		for i, d := range data {
			x := chartMargin + slot*float64(i) + (slot-barW)/2
			h := plotH * float64(d.Count) / float64(maxCount)

			dc.SetColor(barColor)
			dc.DrawRectangle(x, baseline-h, barW, h)
			dc.Fill()

			dc.SetColor(axisColor)
			// MM-DD
			label := d.Date
			if len(label) == len("2006-01-02") {
				label = label[5:]
			}
			dc.DrawStringAnchored(label, x+barW/2, baseline+chartMargin/2, 0.5, 0.5)
			dc.DrawStringAnchored(strconv.Itoa(d.Count), x+barW/2, baseline-h-8, 0.5, 0.5)
		}
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, dc.Image(), imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode chart: %w", err)
	}

	return buf.Bytes(), nil
}
