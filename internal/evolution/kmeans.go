package evolution

import "math"

// cosine32 computes cosine similarity, 0 when either vector is zero.
func cosine32(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// cosineDistance turns similarity into a distance in [0,2].
func cosineDistance(a, b []float32) float64 { return 1 - cosine32(a, b) }

// kmeans clusters vectors with Lloyd's algorithm under cosine distance.
// Seeding is deterministic: the vectors arrive in a caller-fixed order and
// the initial centroids are evenly spaced over that order, so repeated runs
// over the same input produce the same clustering.
func kmeans(vectors [][]float32, k, maxIterations int) []int {
	n := len(vectors)
	assignments := make([]int, n)
	if n == 0 || k < 1 {
		return assignments
	}
	if k > n {
		k = n
	}

	dim := len(vectors[0])
	centroids := make([][]float32, k)
	for i := 0; i < k; i++ {
		centroids[i] = append([]float32(nil), vectors[i*n/k]...)
	}

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, v := range vectors {
			best := 0
			bestDist := math.MaxFloat64
			for j, c := range centroids {
				if d := cosineDistance(v, c); d < bestDist {
					bestDist = d
					best = j
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for j := range sums {
			sums[j] = make([]float64, dim)
		}
		for i, v := range vectors {
			j := assignments[i]
			counts[j]++
			for d := range v {
				sums[j][d] += float64(v[d])
			}
		}
		for j := range centroids {
			if counts[j] == 0 {
				continue
			}
			for d := 0; d < dim; d++ {
				centroids[j][d] = float32(sums[j][d] / float64(counts[j]))
			}
		}
	}
	return assignments
}

// silhouette is the mean silhouette coefficient of the labelled vectors
// under cosine distance, in [-1,1]. Singleton and single-cluster inputs
// score 0.
func silhouette(vectors [][]float32, labels []int) float64 {
	n := len(vectors)
	if n < 2 {
		return 0
	}
	clusters := map[int][]int{}
	for i, l := range labels {
		clusters[l] = append(clusters[l], i)
	}
	if len(clusters) < 2 {
		return 0
	}

	total := 0.0
	counted := 0
	for i := 0; i < n; i++ {
		own := clusters[labels[i]]
		if len(own) < 2 {
			continue
		}
		// a: mean distance to own cluster.
		a := 0.0
		for _, j := range own {
			if j != i {
				a += cosineDistance(vectors[i], vectors[j])
			}
		}
		a /= float64(len(own) - 1)

		// b: mean distance to the nearest other cluster.
		b := math.MaxFloat64
		for label, members := range clusters {
			if label == labels[i] {
				continue
			}
			d := 0.0
			for _, j := range members {
				d += cosineDistance(vectors[i], vectors[j])
			}
			d /= float64(len(members))
			if d < b {
				b = d
			}
		}

		denom := math.Max(a, b)
		if denom > 0 {
			total += (b - a) / denom
		}
		counted++
	}
	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}
