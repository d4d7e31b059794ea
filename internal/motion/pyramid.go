package motion

import "math"

// plane is a single-channel float image with intensities in [0,1].
type plane struct {
	w, h int
	pix  []float32
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, pix: make([]float32, w*h)}
}

func planeFromGray(gray []uint8, w, h int) *plane {
	p := newPlane(w, h)
	for i, v := range gray[:w*h] {
		p.pix[i] = float32(v) / 255
	}
	return p
}

// at returns the pixel with coordinates clamped to the border.
func (p *plane) at(x, y int) float32 {
	x = max(0, min(x, p.w-1))
	y = max(0, min(y, p.h-1))
	return p.pix[y*p.w+x]
}

// sample interpolates bilinearly with border replication.
func (p *plane) sample(x, y float64) float32 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := float32(x - float64(x0))
	fy := float32(y - float64(y0))
	a := p.at(x0, y0)
	b := p.at(x0+1, y0)
	c := p.at(x0, y0+1)
	d := p.at(x0+1, y0+1)
	top := a + (b-a)*fx
	bottom := c + (d-c)*fx
	return top + (bottom-top)*fy
}

// pyrDown blurs with the 5-tap binomial kernel and halves each dimension.
func (p *plane) pyrDown() *plane {
	kernel := [5]float32{1.0 / 16, 4.0 / 16, 6.0 / 16, 4.0 / 16, 1.0 / 16}

	// horizontal pass at full height, half width
	hw := (p.w + 1) / 2
	tmp := newPlane(hw, p.h)
	for y := range p.h {
		for x := range hw {
			sx := 2 * x
			var sum float32
			for k := -2; k <= 2; k++ {
				sum += kernel[k+2] * p.at(sx+k, y)
			}
			tmp.pix[y*hw+x] = sum
		}
	}

	hh := (p.h + 1) / 2
	out := newPlane(hw, hh)
	for y := range hh {
		sy := 2 * y
		for x := range hw {
			var sum float32
			for k := -2; k <= 2; k++ {
				sum += kernel[k+2] * tmp.at(x, sy+k)
			}
			out.pix[y*hw+x] = sum
		}
	}
	return out
}

// sobel returns the horizontal and vertical derivatives, scaled to
// intensity change per pixel.
func (p *plane) sobel() (dx, dy *plane) {
	dx = newPlane(p.w, p.h)
	dy = newPlane(p.w, p.h)
	for y := range p.h {
		for x := range p.w {
			tl, tc, tr := p.at(x-1, y-1), p.at(x, y-1), p.at(x+1, y-1)
			ml, mr := p.at(x-1, y), p.at(x+1, y)
			bl, bc, br := p.at(x-1, y+1), p.at(x, y+1), p.at(x+1, y+1)
			i := y*p.w + x
			dx.pix[i] = ((tr + 2*mr + br) - (tl + 2*ml + bl)) / 8
			dy.pix[i] = ((bl + 2*bc + br) - (tl + 2*tc + tr)) / 8
		}
	}
	return dx, dy
}

// level is one pyramid level with lazily computed gradients.
type level struct {
	img    *plane
	dx, dy *plane
}

func (l *level) gradients() (dx, dy *plane) {
	if l.dx == nil {
		l.dx, l.dy = l.img.sobel()
	}
	return l.dx, l.dy
}

// pyramid holds the base image and successively halved levels.
type pyramid struct {
	levels []*level
}

func buildPyramid(base *plane, extraLevels int) *pyramid {
	pyr := &pyramid{levels: []*level{{img: base}}}
	cur := base
	for range extraLevels {
		// stop once a level would be smaller than the tracking window
		if cur.w < 2*winSize || cur.h < 2*winSize {
			break
		}
		cur = cur.pyrDown()
		pyr.levels = append(pyr.levels, &level{img: cur})
	}
	return pyr
}

func (p *pyramid) width() int  { return p.levels[0].img.w }
func (p *pyramid) height() int { return p.levels[0].img.h }
