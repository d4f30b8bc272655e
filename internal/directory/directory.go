// Package directory serves read-only student, class and teacher profiles.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned for unknown identifiers.
var ErrNotFound = errors.New("directory: not found")

// Student is an enrolled student.
type Student struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Email          string `json:"email" yaml:"email"`
	EnrollmentYear int    `json:"enrollmentYear" yaml:"enrollment_year"`
}

// Class describes a course. An empty Roster means every student is enrolled.
type Class struct {
	ID         string   `json:"id" yaml:"id"`
	Name       string   `json:"name" yaml:"name"`
	Instructor string   `json:"instructor" yaml:"instructor"`
	Schedule   string   `json:"schedule" yaml:"schedule"`
	Roster     []string `json:"roster,omitempty" yaml:"roster"`
}

// Teacher can issue sessions and run photo attendance.
type Teacher struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Email   string `json:"email" yaml:"email"`
	Subject string `json:"subject" yaml:"subject"`
}

// Static is an immutable in-memory directory.
type Static struct {
	students []Student
	classes  []Class
	teachers []Teacher

	studentByID map[string]Student
	classByID   map[string]Class
	teacherByID map[string]Teacher
}

type fileFormat struct {
	Students []Student `yaml:"students"`
	Classes  []Class   `yaml:"classes"`
	Teachers []Teacher `yaml:"teachers"`
}

// New indexes the given profiles.
func New(students []Student, classes []Class, teachers []Teacher) *Static {
	d := &Static{
		students:    students,
		classes:     classes,
		teachers:    teachers,
		studentByID: make(map[string]Student, len(students)),
		classByID:   make(map[string]Class, len(classes)),
		teacherByID: make(map[string]Teacher, len(teachers)),
	}
	for _, s := range students {
		d.studentByID[s.ID] = s
	}
	for _, c := range classes {
		d.classByID[c.ID] = c
	}
	for _, t := range teachers {
		d.teacherByID[t.ID] = t
	}
	return d
}

// LoadFile reads a YAML directory file.
func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML directory document.
func Parse(raw []byte) (*Static, error) {
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}
	for _, s := range f.Students {
		if s.ID == "" {
			return nil, errors.New("directory: student without id")
		}
	}
	for _, c := range f.Classes {
		if c.ID == "" {
			return nil, errors.New("directory: class without id")
		}
	}
	return New(f.Students, f.Classes, f.Teachers), nil
}

// Default returns the built-in demo roster.
func Default() *Static {
	return New(
		[]Student{
			{ID: "STU001", Name: "John Doe", Email: "john@college.edu", EnrollmentYear: 2022},
			{ID: "STU002", Name: "Jane Smith", Email: "jane@college.edu", EnrollmentYear: 2021},
			{ID: "STU003", Name: "Bob Johnson", Email: "bob@college.edu", EnrollmentYear: 2023},
			{ID: "STU004", Name: "Alice Brown", Email: "alice@college.edu", EnrollmentYear: 2022},
			{ID: "STU005", Name: "Charlie Wilson", Email: "charlie@college.edu", EnrollmentYear: 2021},
		},
		[]Class{
			{ID: "CS101", Name: "Computer Science Fundamentals", Instructor: "Prof. Smith", Schedule: "Mon/Wed/Fri 10:00 AM"},
			{ID: "MATH201", Name: "Calculus II", Instructor: "Prof. Johnson", Schedule: "Tue/Thu 2:00 PM"},
			{ID: "ENG101", Name: "English Literature", Instructor: "Prof. Davis", Schedule: "Mon/Wed 1:00 PM"},
		},
		[]Teacher{
			{ID: "TCH001", Name: "Prof. Smith", Email: "smith@college.edu", Subject: "Computer Science"},
			{ID: "TCH002", Name: "Prof. Johnson", Email: "johnson@college.edu", Subject: "Mathematics"},
			{ID: "TCH003", Name: "Prof. Davis", Email: "davis@college.edu", Subject: "English"},
		},
	)
}

// Students lists all students.
func (d *Static) Students(context.Context) ([]Student, error) {
	return append([]Student(nil), d.students...), nil
}

// Classes lists all classes.
func (d *Static) Classes(context.Context) ([]Class, error) {
	return append([]Class(nil), d.classes...), nil
}

// Teachers lists all teachers.
func (d *Static) Teachers(context.Context) ([]Teacher, error) {
	return append([]Teacher(nil), d.teachers...), nil
}

// Student returns one student.
func (d *Static) Student(_ context.Context, id string) (Student, error) {
	s, ok := d.studentByID[id]
	if !ok {
		return Student{}, ErrNotFound
	}
	return s, nil
}

// Class returns one class.
func (d *Static) Class(_ context.Context, id string) (Class, error) {
	c, ok := d.classByID[id]
	if !ok {
		return Class{}, ErrNotFound
	}
	return c, nil
}

// Teacher returns one teacher.
func (d *Static) Teacher(_ context.Context, id string) (Teacher, error) {
	t, ok := d.teacherByID[id]
	if !ok {
		return Teacher{}, ErrNotFound
	}
	return t, nil
}

// TeacherByEmail finds a teacher by login email.
func (d *Static) TeacherByEmail(_ context.Context, email string) (Teacher, error) {
	for _, t := range d.teachers {
		if t.Email == email {
			return t, nil
		}
	}
	return Teacher{}, ErrNotFound
}

// Roster returns the student ids enrolled in classID, sorted.
func (d *Static) Roster(_ context.Context, classID string) ([]string, error) {
	c, ok := d.classByID[classID]
	if !ok {
		return nil, ErrNotFound
	}
	var ids []string
	if len(c.Roster) > 0 {
		ids = append(ids, c.Roster...)
	} else {
		ids = make([]string, 0, len(d.students))
		for _, s := range d.students {
			ids = append(ids, s.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
