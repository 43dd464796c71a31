package mesh

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// NewPlanar triangulates the rectangle [0,width]x[0,height] in the z=0 plane
// with an nx by ny grid of quads, each split along its rising diagonal.
func NewPlanar(width, height float64, nx, ny int) (*Mesh, error) {
	if nx < 1 || ny < 1 {
		return nil, fmt.Errorf("planar mesh: resolution %dx%d", nx, ny)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("planar mesh: size %gx%g", width, height)
	}

	positions := make([]r3.Vec, 0, (nx+1)*(ny+1))
	for j := 0; j <= ny; j++ {
		y := height * float64(j) / float64(ny)
		for i := 0; i <= nx; i++ {
			positions = append(positions, r3.Vec{X: width * float64(i) / float64(nx), Y: y})
		}
	}

	idx := func(i, j int) int { return j*(nx+1) + i }
	faces := make([][3]int, 0, 2*nx*ny)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			faces = append(faces,
				[3]int{idx(i, j), idx(i+1, j), idx(i+1, j+1)},
				[3]int{idx(i, j), idx(i+1, j+1), idx(i, j+1)},
			)
		}
	}
	return New(positions, faces)
}

// NewSphere builds an icosphere of the given radius by repeated midpoint
// subdivision of an icosahedron.
func NewSphere(radius float64, subdivisions int) (*Mesh, error) {
	if radius <= 0 {
		return nil, fmt.Errorf("sphere mesh: radius %g", radius)
	}
	if subdivisions < 0 {
		return nil, fmt.Errorf("sphere mesh: subdivisions %d", subdivisions)
	}

	const phi = 1.618033988749895
	positions := []r3.Vec{
		{X: -1, Y: phi}, {X: 1, Y: phi}, {X: -1, Y: -phi}, {X: 1, Y: -phi},
		{Y: -1, Z: phi}, {Y: 1, Z: phi}, {Y: -1, Z: -phi}, {Y: 1, Z: -phi},
		{X: phi, Z: -1}, {X: phi, Z: 1}, {X: -phi, Z: -1}, {X: -phi, Z: 1},
	}
	for i := range positions {
		positions[i] = unit3(positions[i])
	}
	faces := [][3]int{
		{0, 11, 5}, {0, 5, 1}, {0, 1, 7}, {0, 7, 10}, {0, 10, 11},
		{1, 5, 9}, {5, 11, 4}, {11, 10, 2}, {10, 7, 6}, {7, 1, 8},
		{3, 9, 4}, {3, 4, 2}, {3, 2, 6}, {3, 6, 8}, {3, 8, 9},
		{4, 9, 5}, {2, 4, 11}, {6, 2, 10}, {8, 6, 7}, {9, 8, 1},
	}

	for s := 0; s < subdivisions; s++ {
		mid := make(map[[2]int]int, len(faces)*3/2)
		midpoint := func(a, b int) int {
			key := edgeKey(a, b)
			if v, ok := mid[key]; ok {
				return v
			}
			positions = append(positions, unit3(r3.Add(positions[a], positions[b])))
			mid[key] = len(positions) - 1
			return len(positions) - 1
		}
		next := make([][3]int, 0, 4*len(faces))
		for _, tri := range faces {
			a := midpoint(tri[0], tri[1])
			b := midpoint(tri[1], tri[2])
			c := midpoint(tri[2], tri[0])
			next = append(next,
				[3]int{tri[0], a, c},
				[3]int{tri[1], b, a},
				[3]int{tri[2], c, b},
				[3]int{a, b, c},
			)
		}
		faces = next
	}

	for i := range positions {
		positions[i] = r3.Scale(radius, positions[i])
	}
	return New(positions, faces)
}
