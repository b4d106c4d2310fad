package lunasa

import "os"

// WriteFile writes o's on-disk form ([wire header][meta][data]) to path.
func (o *DataObject) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = o.WriteTo(f)
	return err
}

// LoadDataObjectFromFile reads an LDO previously written by WriteFile.
// The file size minus the header size equals the object's total user
// capacity, per spec §6 ("the reader allocates an LDO of file_size −
// header_size").
func LoadDataObjectFromFile(path string, allocator *Allocator) (*DataObject, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadDataObject(f, allocator)
}
