package ecs

// EntityID identifies an entity. Zero is never allocated.
type EntityID uint64

// InvalidEntity is the zero id.
const InvalidEntity EntityID = 0

func (id EntityID) IsZero() bool { return id == 0 }

// EntityInfo is per-entity metadata, created lazily by the first component
// added to an entity.
type EntityInfo struct {
	Awake   bool
	Enabled bool
}

// Ready is true once the entity has been awakened and is enabled.
func (i EntityInfo) Ready() bool { return i.Awake && i.Enabled }

// entityPool hands out ids. Released ids go on a LIFO free list; they only
// get there after FlushMorgue has removed every component of the entity.
type entityPool struct {
	next     EntityID
	freeList []EntityID
}

func newEntityPool() entityPool {
	return entityPool{
		next:     1,
		freeList: make([]EntityID, 0, 256),
	}
}

func (p *entityPool) create() EntityID {
	if n := len(p.freeList); n > 0 {
		id := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return id
	}
	id := p.next
	p.next++
	return id
}

// reserve claims an id chosen by someone else, such as a scene file, so
// create never returns it while it is in use.
func (p *entityPool) reserve(id EntityID) {
	if id >= p.next {
		p.next = id + 1
		return
	}
	for i, free := range p.freeList {
		if free == id {
			p.freeList = append(p.freeList[:i], p.freeList[i+1:]...)
			return
		}
	}
}

func (p *entityPool) release(id EntityID) {
	p.freeList = append(p.freeList, id)
}
