package dice

// Scripted returns a factory whose sources replay fixed faces for selected
// seeds. Each listed seed yields its faces in order; once they run out, or
// for seeds that are not listed, draws come from MathSource.
//
// It lets callers pin exact faces, e.g. a natural 20 on the to-hit seed.
func Scripted(faces map[int64][]int) SourceFactory {
	return func(seed int64) Source {
		scripted, ok := faces[seed]
		if !ok {
			return MathSource(seed)
		}
		queue := make([]int, len(scripted))
		copy(queue, scripted)
		return &scriptedSource{faces: queue, fallback: MathSource(seed)}
	}
}

type scriptedSource struct {
	faces    []int
	fallback Source
}

func (s *scriptedSource) Intn(n int) int {
	if len(s.faces) == 0 {
		return s.fallback.Intn(n)
	}
	face := s.faces[0]
	s.faces = s.faces[1:]
	// face is 1-based, Intn is 0-based.
	v := face - 1
	if v < 0 {
		v = 0
	}
	if v >= n {
		v = n - 1
	}
	return v
}
