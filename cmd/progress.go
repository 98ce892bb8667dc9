// Copyright © 2019 Marcus Mengs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"

	"github.com/mame82/d21flash/d21"
	"github.com/schollz/progressbar/v3"
)

// progressReporter renders session progress: a spinner while erasing, byte based bars
// while programming and verifying.
type progressReporter struct {
	bar   *progressbar.ProgressBar
	phase d21.ProgressPhase
	blob  d21.BlobID
}

func newProgressReporter() *progressReporter {
	return &progressReporter{}
}

func (r *progressReporter) Report(p d21.Progress) {
	if r.bar != nil && (r.phase != p.Phase || r.blob != p.Blob) {
		r.finish()
	}
	if r.bar == nil {
		if p.Done {
			return
		}
		r.start(p)
	}

	if p.Phase == d21.PhaseErasing {
		r.bar.Add(1)
	} else {
		current := p.Current
		if current > p.Total {
			current = p.Total
		}
		r.bar.Set(current)
	}
	if p.Done {
		r.finish()
	}
}

func (r *progressReporter) start(p d21.Progress) {
	r.phase, r.blob = p.Phase, p.Blob
	if p.Phase == d21.PhaseErasing {
		r.bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Erasing: "),
			progressbar.OptionSpinnerType(14),
		)
		return
	}
	r.bar = progressbar.NewOptions(p.Total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(p.Phase.String()+": "),
		progressbar.OptionShowBytes(true),
	)
}

func (r *progressReporter) finish() {
	r.bar.Finish()
	fmt.Println()
	r.bar = nil
}

// waitSpinner is shown while polling for a device to enumerate. It stays invisible if the
// device is found on the first attempt.
type waitSpinner struct {
	message string
	bar     *progressbar.ProgressBar
}

func newWaitSpinner(message string) *waitSpinner {
	return &waitSpinner{message: message}
}

func (w *waitSpinner) Tick(attempt int) {
	if attempt == 0 {
		return
	}
	if w.bar == nil {
		w.bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription(w.message),
			progressbar.OptionSpinnerType(14),
		)
	}
	w.bar.Add(1)
}

func (w *waitSpinner) Finish() {
	if w.bar != nil {
		w.bar.Finish()
		fmt.Println()
		w.bar = nil
	}
}
