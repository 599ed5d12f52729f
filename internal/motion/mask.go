package motion

// Blob is a 4-connected foreground component on the analysis grid
type Blob struct {
	Area int `json:"area"` // Number of grid cells
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MaxX int `json:"max_x"`
	MaxY int `json:"max_y"`
}

// Width returns the bounding box width in grid cells
func (b Blob) Width() int { return b.MaxX - b.MinX + 1 }

// Height returns the bounding box height in grid cells
func (b Blob) Height() int { return b.MaxY - b.MinY + 1 }

// Horizontal reports whether the bounding box is wider than it is tall
func (b Blob) Horizontal() bool { return b.Height() < b.Width() }

// LargestBlob finds the biggest 4-connected component of mask, a row-major
// w×h grid. Components smaller than minArea are ignored. Ties keep the
// component found first in scan order.
func LargestBlob(mask []bool, w, h, minArea int) (Blob, bool) {
	if w <= 0 || h <= 0 || len(mask) < w*h {
		return Blob{}, false
	}

	visited := make([]bool, w*h)
	stack := make([]int, 0, 64)
	var best Blob
	found := false

	for start := 0; start < w*h; start++ {
		if !mask[start] || visited[start] {
			continue
		}

		blob := Blob{MinX: w, MinY: h, MaxX: -1, MaxY: -1}
		visited[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%w, idx/w

			blob.Area++
			blob.MinX = min(blob.MinX, x)
			blob.MaxX = max(blob.MaxX, x)
			blob.MinY = min(blob.MinY, y)
			blob.MaxY = max(blob.MaxY, y)

			if x > 0 {
				stack = push(stack, mask, visited, idx-1)
			}
			if x < w-1 {
				stack = push(stack, mask, visited, idx+1)
			}
			if y > 0 {
				stack = push(stack, mask, visited, idx-w)
			}
			if y < h-1 {
				stack = push(stack, mask, visited, idx+w)
			}
		}

		if blob.Area >= minArea && blob.Area > best.Area {
			best = blob
			found = true
		}
	}
	return best, found
}

func push(stack []int, mask, visited []bool, idx int) []int {
	if mask[idx] && !visited[idx] {
		visited[idx] = true
		stack = append(stack, idx)
	}
	return stack
}
